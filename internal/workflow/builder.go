package workflow

import (
	"errors"
	"fmt"
	"math/rand"
)

// ErrEmptyPrompt is returned when the positive prompt is blank
var ErrEmptyPrompt = errors.New("prompt is required")

// Params are the per-request values patched into a template
type Params struct {
	Prompt         string
	NegativePrompt string
	// nil picks a random seed; 0 is a valid explicit seed
	Seed *uint32
	// empty selects the plain topology
	LoraName string
}

// Builder instantiates templates. It holds no per-request state and is safe
// for concurrent use as long as its random source is.
type Builder struct {
	settings Settings
	random   func() uint32
}

// NewBuilder creates a builder drawing random seeds from math/rand
func NewBuilder(settings Settings) *Builder {
	return NewBuilderWithSource(settings, rand.Uint32)
}

// NewBuilderWithSource creates a builder with an explicit seed source
func NewBuilderWithSource(settings Settings, random func() uint32) *Builder {
	return &Builder{
		settings: settings,
		random:   random,
	}
}

// Settings returns the template settings
func (b *Builder) Settings() Settings {
	return b.settings
}

// Build returns a fully resolved graph and the sampler seed it carries
func (b *Builder) Build(p Params) (JobGraph, uint32, error) {
	if p.Prompt == "" {
		return nil, 0, ErrEmptyPrompt
	}

	var (
		graph    JobGraph
		topology Topology
	)
	if p.LoraName != "" {
		graph, topology = adapterGraph(b.settings), AdapterTopology
		graph.set(topology.Adapter, "lora_name", p.LoraName)
		graph.set(topology.Positive, "clip", Ref{topology.Adapter, slotClip})
		graph.set(topology.Negative, "clip", Ref{topology.Adapter, slotClip})
	} else {
		graph, topology = plainGraph(b.settings), PlainTopology
	}

	graph.set(topology.Positive, "text", p.Prompt)
	graph.set(topology.Negative, "text", p.NegativePrompt)

	var seed uint32
	if p.Seed != nil {
		seed = *p.Seed
	} else {
		seed = b.random()
	}
	graph.set(topology.Sampler, "seed", seed)

	if err := graph.Validate(); err != nil {
		return nil, 0, fmt.Errorf("invalid %s workflow: %w", topology.Name, err)
	}
	return graph, seed, nil
}

// TopologyFor returns the topology Build uses for the given LoRA name
func TopologyFor(loraName string) Topology {
	if loraName != "" {
		return AdapterTopology
	}
	return PlainTopology
}
