package interfaces

import (
	"context"
	"time"

	"github.com/SanishKumar/comfy-service/internal/workflow"
)

// ComfyUIClient ComfyUI client interface
type ComfyUIClient interface {
	// OpenSession opens the push channel scoped to clientID
	OpenSession(ctx context.Context, clientID string) (Session, error)

	// QueuePrompt submits a job graph and returns the backend's job id
	QueuePrompt(ctx context.Context, graph workflow.JobGraph, clientID string) (*PromptResponse, error)

	// FetchImages downloads every image the job's output nodes produced
	FetchImages(ctx context.Context, promptID string) (NodeImages, error)

	// SystemStats gets backend system statistics
	SystemStats(ctx context.Context) (map[string]interface{}, error)
}

// Session is an open push channel bound to one client id
type Session interface {
	// ClientID returns the id the channel was opened with
	ClientID() string

	// WaitForCompletion blocks until promptID finished executing. A zero
	// deadline waits forever.
	WaitForCompletion(promptID string, deadline time.Time) error

	// Close closes the channel
	Close() error
}

// PromptRequest is the body of POST /prompt
type PromptRequest struct {
	Prompt   workflow.JobGraph `json:"prompt"`
	ClientID string            `json:"client_id"`
}

// PromptResponse ComfyUI response to POST /prompt
type PromptResponse struct {
	PromptID   string                 `json:"prompt_id"`
	Number     int                    `json:"number"`
	NodeErrors map[string]interface{} `json:"node_errors,omitempty"`
}

// HistoryEntry is one job of GET /history/{prompt_id}
type HistoryEntry struct {
	Outputs map[string]NodeOutput `json:"outputs"`
	Status  *ExecutionStatus      `json:"status,omitempty"`
}

// NodeOutput is the result an output node recorded
type NodeOutput struct {
	Images []ImageDescriptor `json:"images,omitempty"`
}

// ImageDescriptor locates an image for GET /view
type ImageDescriptor struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// ExecutionStatus execution status reported in history
type ExecutionStatus struct {
	StatusStr string `json:"status_str"`
	Completed bool   `json:"completed"`
}

// PushMessage is a message received on the WebSocket channel
type PushMessage struct {
	Type string        `json:"type"`
	Data ExecutingData `json:"data"`
}

// ExecutingData payload of "executing" messages. Node is nil once the whole
// prompt has finished.
type ExecutingData struct {
	Node     *string `json:"node"`
	PromptID string  `json:"prompt_id"`
}

// GeneratedImage is one downloaded image
type GeneratedImage struct {
	NodeID    string
	Filename  string
	Subfolder string
	Type      string
	Data      []byte
}

// NodeImages maps output node id to the images it produced, in order
type NodeImages map[string][]GeneratedImage
