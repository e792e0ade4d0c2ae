package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RunConfig records the settings a leaf estimation run was made with.
type RunConfig struct {
	Optimizer    string  `json:"optimizer"` // walker or mayfly
	Loss         string  `json:"loss"`
	Method       string  `json:"method,omitempty"`
	Backtracking string  `json:"backtracking,omitempty"`
	Leafwise     bool    `json:"leafwise,omitempty"`
	Iterations   int     `json:"iterations"`
	LearningRate float64 `json:"learningRate,omitempty"`
	L2           float64 `json:"l2"`

	Samples    int     `json:"samples"`
	Leaves     int     `json:"leaves"`
	Dimensions int     `json:"dimensions"`
	Noise      float64 `json:"noise,omitempty"`
	Binary     bool    `json:"binary,omitempty"`
	Seed       int64   `json:"seed"`
}

// RunRecord is the persisted outcome of one run.
type RunRecord struct {
	RunID string `json:"runId"`

	// LeafValues and StepSum are dimension-major, [dim][leaf].
	LeafValues [][]float64 `json:"leafValues"`
	StepSum    [][]float64 `json:"stepSum"`

	InitialLoss float64 `json:"initialLoss"`
	FinalLoss   float64 `json:"finalLoss"`

	Accepted        int  `json:"accepted"`
	Rejected        int  `json:"rejected"`
	LossEvaluations int  `json:"lossEvaluations"`
	Exhausted       bool `json:"exhausted,omitempty"`

	Timestamp time.Time `json:"timestamp"`
	Config    RunConfig `json:"config"`
}

// RunInfo is the listing view of a run, without leaf values.
type RunInfo struct {
	RunID      string    `json:"runId"`
	FinalLoss  float64   `json:"finalLoss"`
	Timestamp  time.Time `json:"timestamp"`
	Optimizer  string    `json:"optimizer"`
	Loss       string    `json:"loss"`
	Leaves     int       `json:"leaves"`
	Dimensions int       `json:"dimensions"`
}

// NewRunID returns a fresh random run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// NewRunRecord creates a record stamped with the current time.
func NewRunRecord(runID string, leafValues, stepSum [][]float64, initialLoss, finalLoss float64, config RunConfig) *RunRecord {
	return &RunRecord{
		RunID:       runID,
		LeafValues:  leafValues,
		StepSum:     stepSum,
		InitialLoss: initialLoss,
		FinalLoss:   finalLoss,
		Timestamp:   time.Now(),
		Config:      config,
	}
}

// ToInfo converts a full RunRecord to RunInfo.
func (r *RunRecord) ToInfo() RunInfo {
	return RunInfo{
		RunID:      r.RunID,
		FinalLoss:  r.FinalLoss,
		Timestamp:  r.Timestamp,
		Optimizer:  r.Config.Optimizer,
		Loss:       r.Config.Loss,
		Leaves:     r.Config.Leaves,
		Dimensions: r.Config.Dimensions,
	}
}

// Validate checks that the record is internally consistent.
func (r *RunRecord) Validate() error {
	if r.RunID == "" {
		return &ValidationError{Field: "RunID", Reason: "cannot be empty"}
	}
	if r.Timestamp.IsZero() {
		return &ValidationError{Field: "Timestamp", Reason: "cannot be zero"}
	}
	if r.Config.Loss == "" {
		return &ValidationError{Field: "Config.Loss", Reason: "cannot be empty"}
	}
	if r.Config.Optimizer == "" {
		return &ValidationError{Field: "Config.Optimizer", Reason: "cannot be empty"}
	}
	if r.Config.Leaves <= 0 {
		return &ValidationError{Field: "Config.Leaves", Reason: "must be positive"}
	}
	if r.Config.Dimensions <= 0 {
		return &ValidationError{Field: "Config.Dimensions", Reason: "must be positive"}
	}
	if r.InitialLoss < 0 || r.FinalLoss < 0 {
		return &ValidationError{Field: "Loss", Reason: "cannot be negative"}
	}
	if r.Accepted < 0 || r.Rejected < 0 || r.LossEvaluations < 0 {
		return &ValidationError{Field: "Counters", Reason: "cannot be negative"}
	}
	if err := checkShape("LeafValues", r.LeafValues, r.Config.Dimensions, r.Config.Leaves); err != nil {
		return err
	}
	return checkShape("StepSum", r.StepSum, r.Config.Dimensions, r.Config.Leaves)
}

func checkShape(field string, m [][]float64, dims, leaves int) error {
	if len(m) != dims {
		return &ValidationError{
			Field:  field,
			Reason: fmt.Sprintf("has %d dimensions, expected %d", len(m), dims),
		}
	}
	for d, row := range m {
		if len(row) != leaves {
			return &ValidationError{
				Field:  field,
				Reason: fmt.Sprintf("dimension %d has %d leaves, expected %d", d, len(row), leaves),
			}
		}
	}
	return nil
}

// ValidationError represents a run record validation error.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}
