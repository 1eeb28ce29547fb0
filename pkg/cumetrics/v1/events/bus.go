package events

import (
	"time"

	"github.com/gxo-labs/cumetrics/pkg/cumetrics/v1/task"
)

// EventType represents the kind of report carried by an Event.
type EventType string

// Reports produced by the allocation and worker-execution subsystems.
const (
	WorkersRegistered  EventType = "WorkersRegistered"  // WorkerIDs set
	EpochAdvanced      EventType = "EpochAdvanced"      // Epoch set, Allocations optional
	AllocationsUpdated EventType = "AllocationsUpdated" // Allocations set
	ComputeUnitsSpent  EventType = "ComputeUnitsSpent"  // WorkerID and Amount set
	QueryFinished      EventType = "QueryFinished"      // Task set
)

// Event is a single report destined for the metrics registry. Only the
// fields relevant to Type are read.
type Event struct {
	Type      EventType
	Timestamp time.Time

	WorkerIDs   []string
	Epoch       uint32
	Allocations []task.Allocation
	WorkerID    string
	Amount      uint32
	Task        task.FinishedTask
}

// Bus defines the interface for publishing registry reports.
type Bus interface {
	// Emit publishes an event. Implementations must not block the caller,
	// which is typically on a query's hot path.
	Emit(event Event)
}
