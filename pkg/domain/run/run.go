// Package run models test runs as the coordination store holds them.
package run

import (
	"context"
	"strings"
	"time"
)

type Status string

const (
	StatusQueued     Status = "queued"
	StatusAllocated  Status = "allocated"
	StatusStarted    Status = "started"
	StatusBuilding   Status = "building"
	StatusProvStart  Status = "provstart"
	StatusGenerating Status = "generating"
	StatusRunning    Status = "running"
	StatusRunDone    Status = "rundone"
	StatusUp         Status = "up"
	StatusDiscarding Status = "discarding"
	StatusEnding     Status = "ending"
	StatusFinished   Status = "finished"
)

// AsStatus normalises s. Status values are compared in lower case.
func AsStatus(s string) Status {
	return Status(strings.ToLower(strings.TrimSpace(s)))
}

func (s Status) String() string {
	return string(s)
}

func (s Status) Finished() bool {
	return s == StatusFinished
}

// Result is the outcome of a run, and doubles as the interrupt reason.
type Result string

const (
	ResultCancelled Result = "Cancelled"
	ResultHung      Result = "Hung"
	ResultRequeued  Result = "Requeued"
)

func (r Result) String() string {
	return string(r)
}

type Run struct {
	Name   string
	Status Status
	Result string

	// Queued is zero when unknown.
	Queued time.Time

	// Heartbeat is nil until the engine reports its liveness.
	Heartbeat *time.Time

	// InterruptReason is empty when no interruption is requested.
	InterruptReason Result

	RasActions RasActions

	Local             bool
	SharedEnvironment bool
	Trace             bool

	Group     string
	Stream    string
	Requestor string
	RasRunID  string
	Test      string
}

// Interrupted tells whether r is waiting for its interruption to be handled.
func (r Run) Interrupted() bool {
	return !r.Status.Finished() && r.InterruptReason != ""
}

type Interface interface {
	// Queued returns runs in status queued, in no particular order.
	Queued(ctx context.Context) ([]Run, error)

	// Active returns runs which are neither queued nor finished.
	Active(ctx context.Context) ([]Run, error)

	All(ctx context.Context) ([]Run, error)

	// Get returns the run, or nil when the store has no key of the run.
	Get(ctx context.Context, name string) (*Run, error)

	// Allocate moves the run from queued to allocated, atomically.
	//
	// It returns false when the run is not queued anymore,
	// typically because another controller has allocated it.
	Allocate(ctx context.Context, name string, controllerID string, now time.Time, timeout time.Duration) (bool, error)

	// MarkFinished finishes the run interrupted with reason, taking reason as its result,
	// and consumes the interruption in the same transaction.
	//
	// It returns false when the run is not interrupted with reason anymore,
	// that is, the interruption is consumed already.
	MarkFinished(ctx context.Context, name string, reason Result) (bool, error)

	// Reset puts the run interrupted with Requeued back in the queue,
	// clearing its allocation and interruption in the same transaction.
	//
	// Local runs and missing runs are not reset, and false is returned for them.
	// So is it when the run is not interrupted with Requeued anymore.
	Reset(ctx context.Context, name string) (bool, error)

	// MarkInterrupted requests interruption of the run with reason.
	//
	// It returns false when the run is missing, finished,
	// or already interrupted with the same reason.
	MarkInterrupted(ctx context.Context, name string, reason Result) (bool, error)
}
