// Package inference defines the detector capability the selector drives
// and a simulated engine for the bundled host and tests.
package inference

import (
	"context"
	"image"
	"time"

	"github.com/vitalis-app/selector/internal/errors"
	"github.com/vitalis-app/selector/internal/models"
)

// ErrInference is the parent of every inference failure.
var ErrInference = errors.New("inference failed")

var (
	// ErrModelUnavailable means the variant could not be loaded or run.
	ErrModelUnavailable = errors.Mark(errors.New("model unavailable"), ErrInference)
	// ErrMalformedFrame means the frame could not be fed to the model.
	ErrMalformedFrame = errors.Mark(errors.New("malformed frame"), ErrInference)
)

// Frame is a single camera frame.
type Frame struct {
	ID        uint64
	Image     image.Image
	Timestamp time.Time
}

// Detection is one detected object. Box geometry is not tracked.
type Detection struct {
	Label      string
	Confidence float64
}

// Result is the output of one inference.
type Result struct {
	Detections []Detection
	Elapsed    time.Duration
}

// Confidences returns the per-detection scores.
func (r Result) Confidences() []float64 {
	out := make([]float64, len(r.Detections))
	for i, d := range r.Detections {
		out[i] = d.Confidence
	}
	return out
}

// Engine runs a model variant on a frame.
type Engine interface {
	Infer(ctx context.Context, variant models.Variant, frame Frame) (Result, error)
}

// EngineFunc adapts a function to Engine.
type EngineFunc func(ctx context.Context, variant models.Variant, frame Frame) (Result, error)

// Infer calls f.
func (f EngineFunc) Infer(ctx context.Context, variant models.Variant, frame Frame) (Result, error) {
	return f(ctx, variant, frame)
}
