package screenshot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/visionward/sitewatch/internal/logger"
)

// Store persists annotated screenshots and returns a reference usable
// in violation and notification payloads
type Store interface {
	Save(ctx context.Context, cameraID string, category string, imageData []byte) (string, error)
}

// LocalConfig configures the on-disk screenshot store
type LocalConfig struct {
	// Dir is the root screenshot directory
	Dir string
}

// LocalStore writes screenshots under Dir/cameraID/ with a timestamped
// filename. The returned reference is the file path.
type LocalStore struct {
	dir    string
	logger *logger.Logger
}

// NewLocalStore creates the store and its root directory
func NewLocalStore(cfg LocalConfig, log *logger.Logger) (*LocalStore, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("screenshot directory not configured")
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create screenshot directory: %w", err)
	}
	return &LocalStore{dir: cfg.Dir, logger: log}, nil
}

// Dir returns the root screenshot directory
func (s *LocalStore) Dir() string {
	return s.dir
}

// Save writes the image and returns its path
func (s *LocalStore) Save(ctx context.Context, cameraID string, category string, imageData []byte) (string, error) {
	camDir := filepath.Join(s.dir, cameraID)
	if err := os.MkdirAll(camDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create camera directory: %w", err)
	}

	name := fmt.Sprintf("%s_%s.jpg", time.Now().UTC().Format("20060102-150405.000"), category)
	path := filepath.Join(camDir, name)
	if err := os.WriteFile(path, imageData, 0644); err != nil {
		return "", fmt.Errorf("failed to write screenshot: %w", err)
	}

	s.logger.Debug("Screenshot saved", "path", path, "bytes", len(imageData))
	return path, nil
}
