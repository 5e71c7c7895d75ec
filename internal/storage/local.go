package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/SanishKumar/comfy-service/internal/config"
	"github.com/SanishKumar/comfy-service/internal/interfaces"
)

// LocalStore keeps images as flat files in one directory
type LocalStore struct {
	dir    string
	logger *logrus.Logger
}

// NewLocalStore creates the directory if needed
func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &LocalStore{
		dir:    dir,
		logger: config.NewLogger(),
	}, nil
}

// Save writes data to dir/name, replacing any existing file
func (s *LocalStore) Save(ctx context.Context, name string, data []byte) (string, error) {
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write image: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"path":       path,
		"size_bytes": len(data),
	}).Debug("Image saved")
	return path, nil
}

// List lists *.png files, newest first
func (s *LocalStore) List(ctx context.Context) ([]interfaces.ImageInfo, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*.png"))
	if err != nil {
		return nil, fmt.Errorf("failed to list images: %w", err)
	}

	images := make([]interfaces.ImageInfo, 0, len(matches))
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil {
			// removed between glob and stat
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("failed to stat %s: %w", path, err)
		}
		if info.IsDir() {
			continue
		}
		images = append(images, interfaces.ImageInfo{
			Filename:  info.Name(),
			SizeBytes: info.Size(),
			Created:   info.ModTime(),
			Path:      path,
		})
	}

	sortNewestFirst(images)
	return images, nil
}

func sortNewestFirst(images []interfaces.ImageInfo) {
	sort.SliceStable(images, func(i, j int) bool {
		return images[i].Created.After(images[j].Created)
	})
}
