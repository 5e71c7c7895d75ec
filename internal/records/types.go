package records

import (
	"time"

	"github.com/google/uuid"
)

// Status generation status
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Record tracks one POST /generate call
type Record struct {
	ID             string     `json:"id"`
	PromptID       string     `json:"prompt_id,omitempty"`
	ClientID       string     `json:"client_id,omitempty"`
	Prompt         string     `json:"prompt"`
	NegativePrompt string     `json:"negative_prompt,omitempty"`
	Seed           *uint32    `json:"seed,omitempty"`
	LoraName       string     `json:"lora_name,omitempty"`
	Status         Status     `json:"status"`
	SizeBytes      int        `json:"size_bytes,omitempty"`
	SavedPath      string     `json:"saved_path,omitempty"`
	Error          string     `json:"error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// NewRecord creates a running record
func NewRecord(prompt, negativePrompt, loraName string) *Record {
	now := time.Now()
	return &Record{
		ID:             uuid.New().String(),
		Prompt:         prompt,
		NegativePrompt: negativePrompt,
		LoraName:       loraName,
		Status:         StatusRunning,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// MarkSubmitted records the backend identifiers once the job is queued
func (r *Record) MarkSubmitted(promptID, clientID string, seed uint32) {
	r.PromptID = promptID
	r.ClientID = clientID
	r.Seed = &seed
	r.UpdatedAt = time.Now()
}

// MarkCompleted marks record as completed
func (r *Record) MarkCompleted(sizeBytes int, savedPath string) {
	r.Status = StatusCompleted
	r.SizeBytes = sizeBytes
	r.SavedPath = savedPath
	now := time.Now()
	r.CompletedAt = &now
	r.UpdatedAt = now
}

// MarkFailed marks record as failed
func (r *Record) MarkFailed(errorMsg string) {
	r.Status = StatusFailed
	r.Error = errorMsg
	now := time.Now()
	r.CompletedAt = &now
	r.UpdatedAt = now
}

// IsFinished reports whether the record reached a terminal status
func (r *Record) IsFinished() bool {
	return r.Status == StatusCompleted || r.Status == StatusFailed
}
