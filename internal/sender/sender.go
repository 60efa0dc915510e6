// Package sender forwards snapshots to a remote ingest endpoint.
// Snapshots are queued without blocking the control loop, batched, gzip
// compressed and POSTed with exponential backoff. Batches that cannot be
// delivered are spooled to disk and retried on the next FlushSpool.
package sender

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/vitalis-app/selector/internal/buffer"
	"github.com/vitalis-app/selector/internal/config"
	"github.com/vitalis-app/selector/internal/errors"
	"github.com/vitalis-app/selector/internal/models"
)

const (
	// maxRetries is the maximum number of retry attempts before spooling.
	maxRetries = 3

	// baseRetryDelay is the base delay for exponential backoff between retries.
	baseRetryDelay = 2 * time.Second

	// requestTimeout is the HTTP request timeout for each send attempt.
	requestTimeout = 10 * time.Second

	// flushInterval bounds how long a partial batch waits.
	flushInterval = 5 * time.Second
)

// ErrQueueFull is returned by Write when the send queue is saturated.
var ErrQueueFull = errors.New("sender queue full")

// Sender is a LogSink that delivers snapshots over HTTP.
type Sender struct {
	client     *http.Client
	url        string
	token      string
	batchSize  int
	retryDelay time.Duration
	logger     *zap.Logger
	spool      *buffer.Spool
	queue      chan models.MetricSnapshot
}

// New creates a Sender. spool may be nil, in which case undeliverable
// batches are dropped.
func New(cfg config.SenderConfig, spool *buffer.Spool, logger *zap.Logger) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	size := cfg.BatchSize
	if size <= 0 {
		size = 50
	}
	return &Sender{
		client:     &http.Client{Timeout: requestTimeout},
		url:        cfg.URL,
		token:      cfg.Token,
		batchSize:  size,
		retryDelay: baseRetryDelay,
		logger:     logger.Named("sender"),
		spool:      spool,
		queue:      make(chan models.MetricSnapshot, size*4),
	}
}

// Write queues snap for delivery. It never blocks.
func (s *Sender) Write(snap models.MetricSnapshot) error {
	select {
	case s.queue <- snap:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run batches queued snapshots until ctx is cancelled, then sends what is
// left and returns.
func (s *Sender) Run(ctx context.Context) {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]models.MetricSnapshot, 0, s.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		s.Send(batch)
		batch = make([]models.MetricSnapshot, 0, s.batchSize)
	}

	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case snap := <-s.queue:
					batch = append(batch, snap)
				default:
					flush()
					return
				}
			}
		case snap := <-s.queue:
			batch = append(batch, snap)
			if len(batch) >= s.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// Send delivers one batch, spooling it after all retries fail.
func (s *Sender) Send(metrics []models.MetricSnapshot) {
	data, err := json.Marshal(models.MetricBatch{Token: s.token, Metrics: metrics})
	if err != nil {
		s.logger.Error("Failed to marshal batch", zap.Error(err))
		return
	}

	var compressed bytes.Buffer
	gz := gzip.NewWriter(&compressed)
	if _, err := gz.Write(data); err != nil {
		s.logger.Error("Failed to compress batch", zap.Error(err))
		s.spoolBatch(metrics)
		return
	}
	if err := gz.Close(); err != nil {
		s.logger.Error("Failed to finalize gzip compression", zap.Error(err))
		s.spoolBatch(metrics)
		return
	}

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(math.Pow(2, float64(attempt-1))) * s.retryDelay
			s.logger.Warn("Retrying send",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay))
			time.Sleep(delay)
		}

		err := s.doSend(compressed.Bytes())
		if err == nil {
			s.logger.Debug("Batch sent", zap.Int("metrics", len(metrics)))
			return
		}

		if isRateLimited(err) {
			s.logger.Warn("Rate limited by server, spooling batch", zap.Error(err))
			s.spoolBatch(metrics)
			return
		}

		s.logger.Warn("Send failed",
			zap.Int("attempt", attempt),
			zap.Error(err))
	}

	s.logger.Error("All retries exhausted, spooling batch", zap.Int("metrics", len(metrics)))
	s.spoolBatch(metrics)
}

// doSend performs a single HTTP POST to the ingest endpoint.
func (s *Sender) doSend(compressedData []byte) error {
	url := fmt.Sprintf("%s/api/ingest", s.url)

	req, err := http.NewRequestWithContext(
		context.Background(),
		http.MethodPost,
		url,
		bytes.NewReader(compressedData),
	)
	if err != nil {
		return errors.Wrap(err, "create request")
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-Encoding", "gzip")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "send request")
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return &rateLimitError{statusCode: resp.StatusCode}
	}
	return errors.Newf("server returned %d", resp.StatusCode)
}

func (s *Sender) spoolBatch(metrics []models.MetricSnapshot) {
	if s.spool == nil {
		s.logger.Warn("No spool available, dropping metrics", zap.Int("count", len(metrics)))
		return
	}
	if err := s.spool.Store(metrics); err != nil {
		s.logger.Error("Failed to spool metrics", zap.Error(err))
	}
}

// FlushSpool resends every batch spooled during earlier outages.
func (s *Sender) FlushSpool() {
	if s.spool == nil {
		return
	}
	batches, err := s.spool.Drain()
	if err != nil {
		s.logger.Error("Failed to read spooled metrics", zap.Error(err))
		return
	}
	if len(batches) == 0 {
		return
	}
	s.logger.Info("Flushing spooled metrics", zap.Int("batches", len(batches)))
	for _, batch := range batches {
		s.Send(batch)
	}
}

// rateLimitError indicates the server returned HTTP 429.
type rateLimitError struct {
	statusCode int
}

func (e *rateLimitError) Error() string {
	return fmt.Sprintf("rate limited (%d)", e.statusCode)
}

func isRateLimited(err error) bool {
	var rl *rateLimitError
	return errors.As(err, &rl)
}
