// Package pipeline orchestrates one document's extraction run: classify,
// extract candidates concurrently, fuse, enhance, validate, gate. A run
// owns all of its state; nothing outlives the document except the
// read-only institution registry shared by every run.
package pipeline

import (
	"time"

	"portex/pkg/contracts/domain"
)

// Stage identifiers, in execution order.
const (
	StageClassify = "classify"
	StageExtract  = "extract"
	StageFusion   = "fusion"
	StageEnhance  = "enhance"
	StageValidate = "validate"
	StageGate     = "gate"
)

// RunStatus is the lifecycle state of one extraction run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Run tracks one document through the pipeline. The response is attached
// when the run completes; a failed run carries the error text instead.
type Run struct {
	ID string `json:"id"`
	// Fingerprint is the BLAKE2b digest of the document content. The
	// service keys runs by it, so one document maps to one run.
	Fingerprint string                     `json:"fingerprint,omitempty"`
	Filename    string                     `json:"filename"`
	Status      RunStatus                  `json:"status"`
	CreatedAt   time.Time                  `json:"created_at"`
	StartedAt   *time.Time                 `json:"started_at,omitempty"`
	CompletedAt *time.Time                 `json:"completed_at,omitempty"`
	Error       string                     `json:"error,omitempty"`
	Response    *domain.ExtractionResponse `json:"response,omitempty"`
}

// NewRun creates a pending run.
func NewRun(id, filename string) *Run {
	return &Run{
		ID:        id,
		Filename:  filename,
		Status:    RunStatusPending,
		CreatedAt: time.Now().UTC(),
	}
}

// Start marks the run as running.
func (r *Run) Start() {
	now := time.Now().UTC()
	r.StartedAt = &now
	r.Status = RunStatusRunning
}

// Complete attaches the response and marks the run as completed.
func (r *Run) Complete(resp *domain.ExtractionResponse) {
	now := time.Now().UTC()
	r.CompletedAt = &now
	r.Status = RunStatusCompleted
	r.Response = resp
}

// Fail marks the run as failed with the given error.
func (r *Run) Fail(err error) {
	now := time.Now().UTC()
	r.CompletedAt = &now
	r.Status = RunStatusFailed
	if err != nil {
		r.Error = err.Error()
	}
}

// ProgressEvent is one stage transition broadcast to observers while a
// run executes.
type ProgressEvent struct {
	RunID     string    `json:"run_id"`
	Stage     string    `json:"stage"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher receives progress events. Implementations must be safe for
// concurrent use; publishing must never block the pipeline.
type Publisher interface {
	Publish(event ProgressEvent)
}

// PublisherFunc adapts a function to the Publisher interface.
type PublisherFunc func(event ProgressEvent)

// Publish implements Publisher.
func (f PublisherFunc) Publish(event ProgressEvent) { f(event) }

// nopPublisher drops all events.
type nopPublisher struct{}

func (nopPublisher) Publish(ProgressEvent) {}
