// Package metriclog writes one CSV line per tick to size-capped files.
// When the current file reaches its limit a new one is started and the
// oldest files beyond the retention count are removed.
package metriclog

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vitalis-app/selector/internal/errors"
	"github.com/vitalis-app/selector/internal/models"
)

const (
	filePrefix = "metrics_log_"
	fileExt    = ".csv"

	// TimestampLayout matches the timestamps of the original device logs.
	TimestampLayout = "2006-01-02 15:04:05"
)

// Header is the first row of every log file.
var Header = []string{
	"timestamp",
	"battery_level",
	"cpu_usage",
	"estimated_power",
	"selected_model",
	"instantaneous_confidence",
	"average_confidence",
	"total_predictions",
	"correct_predictions",
}

// Writer is a LogSink backed by rotating CSV files.
type Writer struct {
	dir      string
	maxBytes int64
	maxFiles int
	logger   *zap.Logger
	now      func() time.Time

	mu   sync.Mutex
	file *os.File
	out  *countingWriter
	csv  *csv.Writer
	path string
}

// New creates a writer in dir, rotating at maxSizeMB and keeping at most
// maxFiles files. The directory is created if it does not exist.
func New(dir string, maxSizeMB, maxFiles int, logger *zap.Logger) (*Writer, error) {
	return NewWithLimit(dir, int64(maxSizeMB)*1024*1024, maxFiles, logger)
}

// NewWithLimit is New with the rotation size given in bytes.
func NewWithLimit(dir string, maxBytes int64, maxFiles int, logger *zap.Logger) (*Writer, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, errors.Wrap(err, "creating metric log directory")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxFiles <= 0 {
		maxFiles = 1
	}
	w := &Writer{
		dir:      dir,
		maxBytes: maxBytes,
		maxFiles: maxFiles,
		logger:   logger,
		now:      time.Now,
	}
	if err := w.rotate(); err != nil {
		return nil, err
	}
	return w, nil
}

// Write appends one row for snap.
func (w *Writer) Write(snap models.MetricSnapshot) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return errors.New("metric log is closed")
	}
	if w.maxBytes > 0 && w.out.n >= w.maxBytes {
		if err := w.rotate(); err != nil {
			return err
		}
	}

	if err := w.csv.Write(Row(snap)); err != nil {
		return errors.Wrap(err, "writing metric row")
	}
	w.csv.Flush()
	return w.csv.Error()
}

// Row formats snap as a CSV record in Header order.
func Row(snap models.MetricSnapshot) []string {
	return []string{
		snap.Timestamp.Format(TimestampLayout),
		strconv.Itoa(snap.BatteryPercent),
		strconv.FormatFloat(snap.CPUPercent, 'f', 2, 64),
		strconv.FormatFloat(snap.PowerWatts, 'f', 3, 64),
		snap.SelectedModel.String(),
		strconv.FormatFloat(snap.InstantaneousConfidence, 'f', 4, 64),
		strconv.FormatFloat(snap.RunningAverageConfidence, 'f', 4, 64),
		strconv.FormatUint(snap.TotalPredictions, 10),
		strconv.FormatUint(snap.CorrectPredictions, 10),
	}
}

// Path returns the file currently being written.
func (w *Writer) Path() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.path
}

// Files returns the log files in dir, oldest first.
func (w *Writer) Files() ([]string, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || filepath.Ext(name) != fileExt {
			continue
		}
		files = append(files, filepath.Join(w.dir, name))
	}
	sort.Strings(files)
	return files, nil
}

// Close flushes and closes the current file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeCurrent()
}

// rotate closes the current file, opens a fresh one and prunes old files.
// Must be called with w.mu held (or before w is shared).
func (w *Writer) rotate() error {
	if err := w.closeCurrent(); err != nil {
		w.logger.Warn("Failed to close metric log", zap.String("file", w.path), zap.Error(err))
	}

	path := w.nextPath()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0640)
	if err != nil {
		return errors.Wrap(err, "creating metric log")
	}
	w.file = f
	w.out = &countingWriter{w: f}
	w.csv = csv.NewWriter(w.out)
	w.path = path

	if err := w.csv.Write(Header); err != nil {
		return errors.Wrap(err, "writing metric log header")
	}
	w.csv.Flush()

	w.logger.Info("Opened metric log", zap.String("file", path))
	w.prune()
	return w.csv.Error()
}

// nextPath picks an unused name stamped with the current time.
func (w *Writer) nextPath() string {
	stamp := strconv.FormatInt(w.now().UnixMilli(), 10)
	path := filepath.Join(w.dir, filePrefix+stamp+fileExt)
	for i := 1; fileExists(path); i++ {
		path = filepath.Join(w.dir, fmt.Sprintf("%s%s_%d%s", filePrefix, stamp, i, fileExt))
	}
	return path
}

// prune removes the oldest files beyond maxFiles.
func (w *Writer) prune() {
	files, err := w.Files()
	if err != nil {
		return
	}
	for len(files) > w.maxFiles {
		if err := os.Remove(files[0]); err != nil {
			w.logger.Warn("Failed to remove old metric log",
				zap.String("file", files[0]),
				zap.Error(err))
			return
		}
		w.logger.Debug("Removed old metric log", zap.String("file", files[0]))
		files = files[1:]
	}
}

func (w *Writer) closeCurrent() error {
	if w.file == nil {
		return nil
	}
	w.csv.Flush()
	err := w.file.Close()
	w.file = nil
	return err
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// countingWriter tracks bytes written to the current file.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
