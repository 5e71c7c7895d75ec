package api

import (
	"github.com/SanishKumar/comfy-service/internal/interfaces"
	"github.com/SanishKumar/comfy-service/internal/records"
)

// GenerateRequest generate request
type GenerateRequest struct {
	Prompt         string  `json:"prompt"`
	NegativePrompt *string `json:"negative_prompt"`
	Seed           *uint32 `json:"seed"`
	LoraName       *string `json:"lora_name"`
	// defaults to true
	SaveImage      *bool   `json:"save_image"`
}

// GenerateResponse generate response
type GenerateResponse struct {
	Image     string  `json:"image"`
	Format    string  `json:"format"`
	SizeBytes int     `json:"size_bytes"`
	SavedPath *string `json:"saved_path"`
	Prompt    string  `json:"prompt"`
	Seed      uint32  `json:"seed"`
	LoraName  *string `json:"lora_name"`
}

// ImageListResponse image list response
type ImageListResponse struct {
	Count  int                    `json:"count"`
	Images []interfaces.ImageInfo `json:"images"`
}

// GenerationListResponse generation record list response
type GenerationListResponse struct {
	Count       int               `json:"count"`
	Generations []*records.Record `json:"generations"`
}

// HealthResponse health response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ErrorResponse error response
type ErrorResponse struct {
	Detail string `json:"detail"`
}
