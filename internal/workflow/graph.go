// Package workflow builds the ComfyUI job graphs submitted for text-to-image
// generation.
package workflow

import (
	"encoding/json"
	"fmt"
	"sort"
)

// JobGraph maps node identifiers to node specifications, the "prompt" body
// ComfyUI executes.
type JobGraph map[string]*NodeSpec

// NodeSpec is a single node of a job graph
type NodeSpec struct {
	ClassType string                 `json:"class_type"`
	Inputs    map[string]interface{} `json:"inputs"`
	Meta      *NodeMeta              `json:"_meta,omitempty"`
}

// NodeMeta carries the display title ComfyUI shows for a node
type NodeMeta struct {
	Title string `json:"title"`
}

// Ref points at output slot Slot of node Node. ComfyUI encodes it as a
// two element array: ["4", 1].
type Ref struct {
	Node string
	Slot int
}

// MarshalJSON encodes the reference in ComfyUI's array form
func (r Ref) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{r.Node, r.Slot})
}

// UnmarshalJSON decodes the array form
func (r *Ref) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 2 {
		return fmt.Errorf("reference must have 2 elements, got %d", len(raw))
	}
	if err := json.Unmarshal(raw[0], &r.Node); err != nil {
		return fmt.Errorf("reference node: %w", err)
	}
	if err := json.Unmarshal(raw[1], &r.Slot); err != nil {
		return fmt.Errorf("reference slot: %w", err)
	}
	return nil
}

func node(classType, title string, inputs map[string]interface{}) *NodeSpec {
	return &NodeSpec{
		ClassType: classType,
		Inputs:    inputs,
		Meta:      &NodeMeta{Title: title},
	}
}

// Validate checks that every reference resolves to a node of the same graph
func (g JobGraph) Validate() error {
	for _, id := range g.NodeIDs() {
		spec := g[id]
		if spec == nil {
			return fmt.Errorf("node %s is empty", id)
		}
		if spec.ClassType == "" {
			return fmt.Errorf("node %s has no class_type", id)
		}
		for name, value := range spec.Inputs {
			ref, ok := value.(Ref)
			if !ok {
				continue
			}
			if _, exists := g[ref.Node]; !exists {
				return fmt.Errorf("node %s input %q references missing node %s", id, name, ref.Node)
			}
		}
	}
	return nil
}

// NodeIDs returns the node identifiers in sorted order
func (g JobGraph) NodeIDs() []string {
	ids := make([]string, 0, len(g))
	for id := range g {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Input returns a node input, nil when the node or input is missing
func (g JobGraph) Input(nodeID, name string) interface{} {
	spec, ok := g[nodeID]
	if !ok || spec == nil {
		return nil
	}
	return spec.Inputs[name]
}

func (g JobGraph) set(nodeID, name string, value interface{}) {
	g[nodeID].Inputs[name] = value
}
