package interfaces

import (
	"context"
	"time"
)

// ImageStore persists generated images
type ImageStore interface {
	// Save stores data under name and returns where it was written
	Save(ctx context.Context, name string, data []byte) (string, error)

	// List lists stored images, newest first
	List(ctx context.Context) ([]ImageInfo, error)
}

// ImageInfo describes a stored image
type ImageInfo struct {
	Filename  string    `json:"filename"`
	SizeBytes int64     `json:"size_bytes"`
	Created   time.Time `json:"created"`
	Path      string    `json:"path"`
}
