package models

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidTransition is returned when a processing-state transition is not
// allowed from the current status.
var ErrInvalidTransition = errors.New("invalid status transition")

// ProcessingStatus is the coarse state of a document's ingestion.
type ProcessingStatus string

const (
	StatusPending    ProcessingStatus = "pending"
	StatusProcessing ProcessingStatus = "processing"
	StatusCompleted  ProcessingStatus = "completed"
	StatusFailed     ProcessingStatus = "failed"
)

// Terminal reports whether no further work will happen without a reset.
func (s ProcessingStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Processing steps reported in CurrentStep.
const (
	StepQueued     = "queued"
	StepExtracting = "extracting"
	StepOCR        = "ocr"
	StepAnalyzing  = "analyzing"
	StepChunking   = "chunking"
	StepEmbedding  = "embedding"
	StepSaving     = "saving"
	StepDone       = "done"
)

// ProcessingError is the failure recorded on a document.
type ProcessingError struct {
	Category string `json:"category"`
	Message  string `json:"message"`
}

// ProcessingState is the per-document ingestion state machine. Values are
// immutable; every transition returns a new state or ErrInvalidTransition.
type ProcessingState struct {
	Status      ProcessingStatus `json:"status"`
	Progress    int              `json:"progress"`
	CurrentStep string           `json:"current_step"`
	Message     string           `json:"message"`
	Error       *ProcessingError `json:"error,omitempty"`
	StartedAt   *time.Time       `json:"started_at,omitempty"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

// NewProcessingState is the state of a freshly uploaded document.
func NewProcessingState() ProcessingState {
	return ProcessingState{
		Status:      StatusPending,
		CurrentStep: StepQueued,
		Message:     "Waiting to be processed",
	}
}

func (s ProcessingState) invalid(to ProcessingStatus) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, to)
}

// Start moves a pending document into processing.
func (s ProcessingState) Start(now time.Time) (ProcessingState, error) {
	if s.Status != StatusPending {
		return s, s.invalid(StatusProcessing)
	}
	return ProcessingState{
		Status:      StatusProcessing,
		Progress:    0,
		CurrentStep: StepExtracting,
		Message:     "Extracting text",
		StartedAt:   &now,
	}, nil
}

// Advance records a new step while processing. Progress never goes backwards.
func (s ProcessingState) Advance(step string, progress int, message string) (ProcessingState, error) {
	if s.Status != StatusProcessing {
		return s, s.invalid(StatusProcessing)
	}
	next := s
	next.CurrentStep = step
	next.Message = message
	next.Progress = clampProgress(progress)
	if next.Progress < s.Progress {
		next.Progress = s.Progress
	}
	return next, nil
}

// Complete finishes a processing document.
func (s ProcessingState) Complete(now time.Time, message string) (ProcessingState, error) {
	if s.Status != StatusProcessing {
		return s, s.invalid(StatusCompleted)
	}
	next := s
	next.Status = StatusCompleted
	next.Progress = 100
	next.CurrentStep = StepDone
	next.Message = message
	next.Error = nil
	next.CompletedAt = &now
	return next, nil
}

// Fail records a failure. Progress is frozen at its current value.
func (s ProcessingState) Fail(now time.Time, category, message string) (ProcessingState, error) {
	if s.Status != StatusProcessing && s.Status != StatusPending {
		return s, s.invalid(StatusFailed)
	}
	next := s
	next.Status = StatusFailed
	next.Message = "Processing failed"
	next.Error = &ProcessingError{Category: category, Message: message}
	next.CompletedAt = &now
	return next, nil
}

// Reset is the re-ingestion path: a terminal document goes back to pending.
func (s ProcessingState) Reset() (ProcessingState, error) {
	if !s.Status.Terminal() {
		return s, s.invalid(StatusPending)
	}
	return NewProcessingState(), nil
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
