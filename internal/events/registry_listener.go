package events

import (
	"context"
	"time"

	"github.com/gxo-labs/cumetrics/pkg/cumetrics/v1/events"
	cmlog "github.com/gxo-labs/cumetrics/pkg/cumetrics/v1/log"
	"github.com/gxo-labs/cumetrics/pkg/cumetrics/v1/task"
)

// staleReportAge is how long a report may wait in the bus before applying it
// is logged as late.
const staleReportAge = 5 * time.Second

// Recorder is the subset of the metrics registry driven by bus events.
type Recorder interface {
	InitializeWorkers(workerIDs []string)
	AdvanceEpoch(epoch uint32)
	AdvanceEpochWithAllocations(epoch uint32, allocations []task.Allocation)
	SetAllocations(allocations []task.Allocation)
	AddSpent(workerID string, amount uint32)
	RecordQueryFinished(t task.FinishedTask)
}

// RegistryEventListener drains a ChannelEventBus and applies each report to
// a Recorder.
type RegistryEventListener struct {
	bus      *ChannelEventBus
	recorder Recorder
	log      cmlog.Logger
}

// NewRegistryEventListener panics if any dependency is nil.
func NewRegistryEventListener(bus *ChannelEventBus, recorder Recorder, log cmlog.Logger) *RegistryEventListener {
	if bus == nil || recorder == nil || log == nil {
		panic("RegistryEventListener requires a non-nil ChannelEventBus, Recorder, and Logger")
	}
	return &RegistryEventListener{
		bus:      bus,
		recorder: recorder,
		log:      log.With("component", "RegistryEventListener"),
	}
}

// Start blocks, applying events until the bus is closed or ctx is done.
// Events still buffered when ctx ends are not applied.
func (l *RegistryEventListener) Start(ctx context.Context) {
	l.log.Debugf("Starting registry event listener...")
	for {
		select {
		case event, ok := <-l.bus.GetChannel():
			if !ok {
				l.log.Debugf("Event bus channel closed, stopping listener.")
				return
			}
			l.handleEvent(event)
		case <-ctx.Done():
			l.log.Debugf("Context cancelled, stopping registry event listener.")
			return
		}
	}
}

func (l *RegistryEventListener) handleEvent(event events.Event) {
	if !event.Timestamp.IsZero() {
		if age := time.Since(event.Timestamp); age > staleReportAge {
			l.log.Warnf("Applying %s report %s after it was emitted; the registry is lagging its producers",
				event.Type, age.Round(time.Millisecond))
		}
	}
	switch event.Type {
	case events.WorkersRegistered:
		l.recorder.InitializeWorkers(event.WorkerIDs)
	case events.EpochAdvanced:
		if len(event.Allocations) > 0 {
			l.recorder.AdvanceEpochWithAllocations(event.Epoch, event.Allocations)
		} else {
			l.recorder.AdvanceEpoch(event.Epoch)
		}
		l.log.Infof("Epoch %d started with %d allocations", event.Epoch, len(event.Allocations))
	case events.AllocationsUpdated:
		l.recorder.SetAllocations(event.Allocations)
	case events.ComputeUnitsSpent:
		l.recorder.AddSpent(event.WorkerID, event.Amount)
	case events.QueryFinished:
		if event.Task == nil {
			l.log.Warnf("Ignoring QueryFinished event without a task")
			return
		}
		l.recorder.RecordQueryFinished(event.Task)
	default:
		l.log.Debugf("Registry listener received unhandled event type: %s", event.Type)
	}
}
