// Package task holds the records the worker-execution and allocation
// subsystems hand to the metrics registry. The registry only reads them.
package task

import "time"

// Status classifies the terminal outcome of a query.
type Status int

const (
	StatusOK Status = iota
	StatusBadRequest
	StatusServerError
	StatusTimeout
	StatusServerOverloaded
	StatusNoAllocation
)

// statusCodes maps each Status to the short code used as a metric label.
var statusCodes = map[Status]string{
	StatusOK:               "ok",
	StatusBadRequest:       "bad_request",
	StatusServerError:      "server_error",
	StatusTimeout:          "timeout",
	StatusServerOverloaded: "server_overloaded",
	StatusNoAllocation:     "no_allocation",
}

// Code returns the short label code for s, or "unknown" for values outside
// the declared set.
func (s Status) Code() string {
	if code, ok := statusCodes[s]; ok {
		return code
	}
	return "unknown"
}

// ParseStatus returns the Status whose short code is code.
func ParseStatus(code string) (Status, bool) {
	for s, c := range statusCodes {
		if c == code {
			return s, true
		}
	}
	return 0, false
}

// String implements fmt.Stringer.
func (s Status) String() string { return s.Code() }

// FinishedTask is the minimal view of a completed query the registry needs.
type FinishedTask interface {
	// Worker returns the identity of the worker that executed the query.
	Worker() string
	// StatusCode returns the short outcome code, e.g. "ok" or "timeout".
	StatusCode() string
	// ExecTimeMs returns the elapsed execution time in milliseconds.
	ExecTimeMs() uint64
}

// Finished is the concrete FinishedTask produced by the execution subsystem.
type Finished struct {
	WorkerID string
	Status   Status
	ExecTime time.Duration
}

func (f Finished) Worker() string     { return f.WorkerID }
func (f Finished) StatusCode() string { return f.Status.Code() }

// ExecTimeMs truncates ExecTime to whole milliseconds. Negative durations
// report zero.
func (f Finished) ExecTimeMs() uint64 {
	if f.ExecTime <= 0 {
		return 0
	}
	return uint64(f.ExecTime.Milliseconds())
}

var _ FinishedTask = Finished{}

// Allocation is one worker's compute-unit budget for an epoch.
type Allocation struct {
	WorkerID     string `yaml:"worker_id" json:"worker_id"`
	ComputeUnits uint32 `yaml:"compute_units" json:"compute_units"`
}
