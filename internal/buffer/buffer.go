// Package buffer spools snapshot batches to disk while the ingest endpoint
// is unreachable. Each batch is one JSON file; the spool is size-capped and
// drops its oldest batch first.
package buffer

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vitalis-app/selector/internal/errors"
	"github.com/vitalis-app/selector/internal/models"
)

const spoolExt = ".json"

// Spool stores undelivered batches.
type Spool struct {
	dir      string
	maxBytes int64
	logger   *zap.Logger
	mu       sync.Mutex
}

// New creates a spool in dir capped at maxSizeMB.
func New(dir string, maxSizeMB int, logger *zap.Logger) (*Spool, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, errors.Wrap(err, "creating spool directory")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Spool{
		dir:      dir,
		maxBytes: int64(maxSizeMB) * 1024 * 1024,
		logger:   logger,
	}, nil
}

// Store writes batch to a new file, evicting the oldest batches first if
// the spool is over its cap.
func (s *Spool) Store(batch []models.MetricSnapshot) error {
	if len(batch) == 0 {
		return nil
	}
	data, err := json.Marshal(batch)
	if err != nil {
		return errors.Wrap(err, "encoding batch")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for s.maxBytes > 0 && s.sizeLocked()+int64(len(data)) > s.maxBytes {
		if !s.dropOldestLocked() {
			break
		}
	}

	// Timestamp prefix keeps lexical order chronological.
	name := time.Now().UTC().Format("20060102T150405.000000000") + "-" + uuid.NewString() + spoolExt
	return os.WriteFile(filepath.Join(s.dir, name), data, 0640)
}

// Drain reads every stored batch oldest first and removes it from disk.
// Unreadable files are removed and skipped.
func (s *Spool) Drain() ([][]models.MetricSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	files, err := s.filesLocked()
	if err != nil {
		return nil, err
	}

	var batches [][]models.MetricSnapshot
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			s.logger.Warn("Failed to read spooled batch", zap.String("file", path), zap.Error(err))
			continue
		}
		var batch []models.MetricSnapshot
		if err := json.Unmarshal(data, &batch); err != nil {
			s.logger.Warn("Removing corrupted spooled batch", zap.String("file", path), zap.Error(err))
			os.Remove(path)
			continue
		}
		batches = append(batches, batch)
		os.Remove(path)
	}
	return batches, nil
}

// Count returns the number of spooled batches.
func (s *Spool) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	files, _ := s.filesLocked()
	return len(files)
}

func (s *Spool) filesLocked() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == spoolExt {
			files = append(files, filepath.Join(s.dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

func (s *Spool) sizeLocked() int64 {
	files, _ := s.filesLocked()
	var total int64
	for _, f := range files {
		if info, err := os.Stat(f); err == nil {
			total += info.Size()
		}
	}
	return total
}

// dropOldestLocked removes one batch and reports whether anything was removed.
func (s *Spool) dropOldestLocked() bool {
	files, err := s.filesLocked()
	if err != nil || len(files) == 0 {
		return false
	}
	s.logger.Warn("Spool full, dropping oldest batch", zap.String("file", files[0]))
	if err := os.Remove(files[0]); err != nil {
		s.logger.Warn("Failed to remove spooled batch", zap.String("file", files[0]), zap.Error(err))
		return false
	}
	return true
}
