// Package settings reads scheduler pacing from a YAML file for deployments
// that run without the settings table.
package settings

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"mediagen/internal/domain"
)

type fileDocument struct {
	Batch domain.BatchSettings `yaml:"batch"`
}

// FileSource serves BatchSettings from a YAML document and re-reads it when
// the file's modification time changes, so edits apply on the next round.
type FileSource struct {
	path string

	mu      sync.Mutex
	modTime time.Time
	cached  domain.BatchSettings
}

// NewFileSource validates that path is readable and returns a source for it.
func NewFileSource(path string) (*FileSource, error) {
	if path == "" {
		return nil, errors.New("settings: file path is required")
	}
	s := &FileSource{path: path}
	if _, err := s.BatchSettings(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

// BatchSettings implements domain.SettingsSource.
func (s *FileSource) BatchSettings(ctx context.Context) (domain.BatchSettings, error) {
	if err := ctx.Err(); err != nil {
		return domain.BatchSettings{}, err
	}
	info, err := os.Stat(s.path)
	if err != nil {
		return domain.BatchSettings{}, fmt.Errorf("settings: stat %s: %w", s.path, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.modTime.IsZero() && info.ModTime().Equal(s.modTime) {
		return s.cached, nil
	}
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return domain.BatchSettings{}, fmt.Errorf("settings: read %s: %w", s.path, err)
	}
	var doc fileDocument
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return domain.BatchSettings{}, fmt.Errorf("settings: parse %s: %w", s.path, err)
	}
	s.cached = doc.Batch
	s.modTime = info.ModTime()
	return s.cached, nil
}

// WriteFile stores settings as YAML at path.
func WriteFile(path string, b domain.BatchSettings) error {
	raw, err := yaml.Marshal(fileDocument{Batch: b})
	if err != nil {
		return fmt.Errorf("settings: encode: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("settings: write %s: %w", path, err)
	}
	return nil
}
