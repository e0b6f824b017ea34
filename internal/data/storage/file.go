package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/songzhibin97/quantaguard/internal/models"
)

// FileStorage keeps all trackers in one JSON document. Every write goes to a
// temp file in the same directory and is renamed over the old one, so a
// crash leaves either the previous or the next document, never a mix.
type FileStorage struct {
	path string

	mu      sync.Mutex
	records map[string]models.TrackerRecord
	loaded  bool
}

func NewFileStorage(path string) (*FileStorage, error) {
	if path == "" {
		return nil, fmt.Errorf("tracker file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create tracker directory: %w", err)
	}
	return &FileStorage{
		path:    path,
		records: make(map[string]models.TrackerRecord),
	}, nil
}

func (s *FileStorage) Load(ctx context.Context) ([]models.TrackerRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(); err != nil {
		return nil, err
	}

	out := make([]models.TrackerRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (s *FileStorage) Put(ctx context.Context, rec models.TrackerRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(); err != nil {
		return err
	}

	prev, had := s.records[rec.Symbol]
	s.records[rec.Symbol] = rec
	if err := s.writeLocked(); err != nil {
		if had {
			s.records[rec.Symbol] = prev
		} else {
			delete(s.records, rec.Symbol)
		}
		return err
	}
	return nil
}

func (s *FileStorage) Delete(ctx context.Context, symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(); err != nil {
		return err
	}

	prev, had := s.records[symbol]
	if !had {
		return nil
	}
	delete(s.records, symbol)
	if err := s.writeLocked(); err != nil {
		s.records[symbol] = prev
		return err
	}
	return nil
}

func (s *FileStorage) loadLocked() error {
	if s.loaded {
		return nil
	}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.loaded = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read tracker file: %w", err)
	}

	records := make(map[string]models.TrackerRecord)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &records); err != nil {
			return fmt.Errorf("failed to decode tracker file: %w", err)
		}
	}
	s.records = records
	s.loaded = true
	return nil
}

func (s *FileStorage) writeLocked() error {
	data, err := json.MarshalIndent(s.records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode trackers: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace tracker file: %w", err)
	}
	return nil
}
