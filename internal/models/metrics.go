// Package models defines the data structures shared by the selector packages.
// Snapshots are serialized to JSON for the remote sink and to CSV for the log.
package models

import "time"

// Variant identifies one interchangeable detection model.
type Variant string

// String returns the variant name.
func (v Variant) String() string { return string(v) }

// TelemetrySample is a point-in-time reading of device resources.
type TelemetrySample struct {
	BatteryPercent int       `json:"battery_percent"`
	CPUPercent     float64   `json:"cpu_percent"`
	PowerWatts     float64   `json:"power_watts"`
	Timestamp      time.Time `json:"timestamp"`
}

// Reason explains why a variant was chosen on a tick.
type Reason string

const (
	// ReasonBestScore means the chosen variant had the highest score.
	ReasonBestScore Reason = "best_score"
	// ReasonHysteresis means a better candidate did not clear the switch margin.
	ReasonHysteresis Reason = "hysteresis"
	// ReasonDwell means the incumbent has not been active for the minimum dwell time.
	ReasonDwell Reason = "dwell"
	// ReasonIncumbentInfeasible means the previous variant lost feasibility.
	ReasonIncumbentInfeasible Reason = "incumbent_infeasible"
	// ReasonFallback means no variant was feasible and the cheapest one was used.
	ReasonFallback Reason = "fallback"
)

// Decision is the output of the selection policy for one tick.
type Decision struct {
	Variant Variant `json:"variant"`
	Reason  Reason  `json:"reason"`
	Score   float64 `json:"score"`
}

// MetricSnapshot combines telemetry, the tick's decision and the ledger
// aggregates into one immutable record for the log and chart sinks.
type MetricSnapshot struct {
	RunID     string    `json:"run_id"`
	Tick      uint64    `json:"tick"`
	Timestamp time.Time `json:"timestamp"`

	BatteryPercent int     `json:"battery_level"`
	CPUPercent     float64 `json:"cpu_usage"`
	PowerWatts     float64 `json:"estimated_power"`

	SelectedModel Variant `json:"selected_model"`
	Reason        Reason  `json:"reason"`

	InstantaneousConfidence  float64       `json:"instantaneous_confidence"`
	RunningAverageConfidence float64       `json:"average_confidence"`
	InferenceTime            time.Duration `json:"inference_time_ns"`
	Failed                   bool          `json:"failed"`
	// Dropped marks a tick whose frame was rejected by backpressure. The
	// confidences then repeat the selected variant's last known values.
	Dropped bool `json:"dropped"`

	// Totals across every variant in the ledger.
	TotalPredictions   uint64 `json:"total_predictions"`
	CorrectPredictions uint64 `json:"correct_predictions"`
}

// ProxyAccuracy returns CorrectPredictions/TotalPredictions, or 0 when
// nothing has been predicted yet. "Correct" means the confidence cleared
// the acceptance threshold; it is not verified against labels.
func (s MetricSnapshot) ProxyAccuracy() float64 {
	if s.TotalPredictions == 0 {
		return 0
	}
	return float64(s.CorrectPredictions) / float64(s.TotalPredictions)
}

// MetricBatch is the payload sent to the ingest endpoint.
type MetricBatch struct {
	Token   string           `json:"token"`
	Metrics []MetricSnapshot `json:"metrics"`
}
