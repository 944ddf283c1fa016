package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/OstapBender-commits/ema-signal-bot/internal/models"
)

// FileStore keeps every symbol's samples in one JSON document on disk. A
// missing or corrupt file reads as empty.
type FileStore struct {
	path   string
	logger *logrus.Logger

	mu      sync.Mutex
	loaded  bool
	symbols map[string][]models.Sample
}

// NewFileStore creates a store backed by path. Nothing is read until first use.
func NewFileStore(path string, logger *logrus.Logger) *FileStore {
	return &FileStore{path: path, logger: logger, symbols: make(map[string][]models.Sample)}
}

// load must be called with mu held.
func (s *FileStore) load() {
	if s.loaded {
		return
	}
	s.loaded = true

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return
	}
	if err != nil {
		s.logger.WithError(err).WithField("path", s.path).Warn("Cannot read sample cache, starting empty")
		return
	}
	var symbols map[string][]models.Sample
	if err := json.Unmarshal(data, &symbols); err != nil {
		s.logger.WithError(err).WithField("path", s.path).Warn("Corrupt sample cache, starting empty")
		return
	}
	if symbols != nil {
		s.symbols = symbols
	}
}

// Load implements SampleStore.
func (s *FileStore) Load(_ context.Context, symbol string) ([]models.Sample, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.load()

	samples, ok := s.symbols[symbol]
	if !ok || len(samples) == 0 {
		return nil, false
	}
	return append([]models.Sample(nil), samples...), true
}

// Save implements SampleStore. The document is rewritten through a
// temporary file and renamed into place.
func (s *FileStore) Save(_ context.Context, symbol string, samples []models.Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.load()

	s.symbols[symbol] = append([]models.Sample(nil), samples...)

	data, err := json.Marshal(s.symbols)
	if err != nil {
		return fmt.Errorf("encode sample cache: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create cache dir: %w", err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write sample cache: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace sample cache: %w", err)
	}
	return nil
}
