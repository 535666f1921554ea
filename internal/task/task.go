// Package task defines the closed set of work items the engine executes.
package task

import (
	"time"

	"github.com/google/uuid"
)

// Kind tags the operation a Task carries out. The set is closed; handlers
// in internal/core dispatch on it with a switch and fail any task whose
// Kind doesn't match a known constant rather than ignoring it.
type Kind string

const (
	KindHtmlParse    Kind = "HtmlParse"
	KindHtmlParseAll Kind = "HtmlParseAll"
	KindDocDownload  Kind = "DocDownload" // reserved, unused — see DESIGN.md
	KindPicDownload  Kind = "PicDownload"
	KindCbzArchive   Kind = "CbzArchive"
	KindScanDir      Kind = "ScanDir"
	KindRemoveCbz    Kind = "RemoveCbz"
	KindFsCbzAdded   Kind = "FsCbzAdded"
	KindFsCbzRemoved Kind = "FsCbzRemoved"
)

// Status is the lifecycle stage of a Task.
type Status string

const (
	StatusPending    Status = "Pending"
	StatusProcessing Status = "Processing"
	StatusCompleted  Status = "Completed"
	StatusFailed     Status = "Failed"
)

// Payload carries the kind-specific arguments for a Task. Only the field(s)
// matching Kind are meaningful; it's a struct-plus-tag rather than an
// interface so Task stays a plain value that's cheap to copy and snapshot.
type Payload struct {
	DocID int32
	CbzID int32
	Path  string
}

// Task is an immutable-shape unit of work tracked by the queue. Fields are
// mutated only through the transition helpers below, which enforce the
// ordering invariants from the timestamp fields.
type Task struct {
	ID          string
	Kind        Kind
	Payload     Payload
	Status      Status
	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
	Result      string
	Error       string
}

// New constructs a Pending task with a fresh UUID v4 id.
func New(kind Kind, payload Payload) Task {
	return Task{
		ID:        uuid.NewString(),
		Kind:      kind,
		Payload:   payload,
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}
}

// Start returns a copy transitioned Pending -> Processing, stamping StartedAt.
func (t Task) Start() Task {
	t.Status = StatusProcessing
	t.StartedAt = time.Now()
	return t
}

// Complete returns a copy transitioned to Completed with the given result.
func (t Task) Complete(result string) Task {
	t.Status = StatusCompleted
	t.Result = result
	t.Error = ""
	t.CompletedAt = time.Now()
	return t
}

// Fail returns a copy transitioned to Failed with the given reason.
func (t Task) Fail(reason string) Task {
	t.Status = StatusFailed
	t.Error = reason
	t.CompletedAt = time.Now()
	return t
}

// ActiveTaskInfo projects a currently-executing task for observers.
type ActiveTaskInfo struct {
	TaskID    string
	Kind      Kind
	WorkerID  int
	StartedAt time.Time
	Progress  *float64
}

// DurationSecs derives the elapsed execution time as of now.
func (a ActiveTaskInfo) DurationSecs() float64 {
	return time.Since(a.StartedAt).Seconds()
}
