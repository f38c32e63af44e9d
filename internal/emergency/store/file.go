// internal/emergency/store/file.go
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"maternalhub-agent/internal/common/logger"
	"maternalhub-agent/internal/models"
)

// FileStore keeps the record in a single JSON file. Writes go to a temp file
// in the same directory followed by a rename, so a reader never observes a
// partial record.
type FileStore struct {
	path   string
	logger logger.Logger
}

func NewFileStore(path string, log logger.Logger) *FileStore {
	return &FileStore{
		path:   path,
		logger: log.WithFields(map[string]interface{}{"store": "file"}),
	}
}

func (s *FileStore) Load(ctx context.Context) (*models.EmergencyRecord, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}

	record, err := decodeRecord(raw)
	if err != nil {
		s.logger.Warn("purging corrupt emergency record", map[string]interface{}{
			"path":  s.path,
			"error": err.Error(),
		})
		_ = os.Remove(s.path)
		return nil, nil
	}
	return record, nil
}

func (s *FileStore) Save(ctx context.Context, record *models.EmergencyRecord) error {
	if record == nil {
		return fmt.Errorf("refusing to save nil record")
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".emergency-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", s.path, err)
	}
	return nil
}

func (s *FileStore) Clear(ctx context.Context) error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", s.path, err)
	}
	return nil
}
