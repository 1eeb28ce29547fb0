package events_test

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gxo-labs/cumetrics/internal/events"
	"github.com/gxo-labs/cumetrics/internal/logger"
	"github.com/gxo-labs/cumetrics/internal/registry"
	cmevents "github.com/gxo-labs/cumetrics/pkg/cumetrics/v1/events"
	"github.com/gxo-labs/cumetrics/pkg/cumetrics/v1/task"
)

func newQuietBus() *events.ChannelEventBus {
	return events.NewChannelEventBus(16, logger.NewLogger("error", "text", io.Discard))
}

func TestListenerAppliesEvents(t *testing.T) {
	log := logger.NewLogger("error", "text", io.Discard)
	bus := events.NewChannelEventBus(16, log)
	reg, err := registry.New()
	require.NoError(t, err)
	listener := events.NewRegistryEventListener(bus, reg, log)

	bus.Emit(cmevents.Event{Type: cmevents.WorkersRegistered, WorkerIDs: []string{"w1", "w2"}})
	bus.Emit(cmevents.Event{Type: cmevents.AllocationsUpdated, Allocations: []task.Allocation{{WorkerID: "w1", ComputeUnits: 9}}})
	bus.Emit(cmevents.Event{Type: cmevents.EpochAdvanced, Epoch: 3, Allocations: []task.Allocation{{WorkerID: "w2", ComputeUnits: 40}}})
	bus.Emit(cmevents.Event{Type: cmevents.ComputeUnitsSpent, WorkerID: "w2", Amount: 15})
	bus.Emit(cmevents.Event{Type: cmevents.ComputeUnitsSpent, WorkerID: "w2", Amount: 5})
	bus.Emit(cmevents.Event{Type: cmevents.QueryFinished, Task: task.Finished{WorkerID: "w2", Status: task.StatusOK, ExecTime: 1200 * time.Millisecond}})
	bus.Emit(cmevents.Event{Type: cmevents.QueryFinished})
	bus.Close()

	done := make(chan struct{})
	go func() {
		listener.Start(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("listener did not stop after the bus was closed")
	}

	assert.Equal(t, uint32(3), reg.Epoch())
	_, ok := reg.Allocated("w1")
	assert.False(t, ok, "allocations from the previous epoch are wiped")
	allocated, ok := reg.Allocated("w2")
	require.True(t, ok)
	assert.Equal(t, int64(40), allocated)
	spent, ok := reg.Spent("w2")
	require.True(t, ok)
	assert.Equal(t, int64(20), spent)
	assert.Equal(t, 1, testutil.CollectAndCount(reg, registry.QueryDurationMetricName))
}

func TestListenerStopsOnContextCancel(t *testing.T) {
	log := logger.NewLogger("error", "text", io.Discard)
	bus := events.NewChannelEventBus(1, log)
	reg, err := registry.New()
	require.NoError(t, err)
	listener := events.NewRegistryEventListener(bus, reg, log)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		listener.Start(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("listener did not stop after context cancellation")
	}
}

func TestEmitDropsOnlyQueryFinishedWhenFull(t *testing.T) {
	bus := newQuietBus()
	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(bus.Collector()))

	for i := 0; i < 20; i++ {
		bus.Emit(cmevents.Event{Type: cmevents.QueryFinished, Task: task.Finished{WorkerID: "w1"}})
	}

	assert.Len(t, bus.GetChannel(), 16)
	assert.Equal(t, 4.0, testutil.ToFloat64(bus.Collector()))
}

func TestEmitWaitsForRoomForStateReports(t *testing.T) {
	log := logger.NewLogger("error", "text", io.Discard)
	bus := events.NewChannelEventBus(2, log)
	reg, err := registry.New()
	require.NoError(t, err)

	emitted := make(chan struct{})
	go func() {
		defer close(emitted)
		bus.Emit(cmevents.Event{Type: cmevents.ComputeUnitsSpent, WorkerID: "w1", Amount: 10})
		bus.Emit(cmevents.Event{Type: cmevents.ComputeUnitsSpent, WorkerID: "w1", Amount: 10})
		bus.Emit(cmevents.Event{Type: cmevents.EpochAdvanced, Epoch: 7})
		bus.Emit(cmevents.Event{Type: cmevents.ComputeUnitsSpent, WorkerID: "w1", Amount: 10})
	}()

	select {
	case <-emitted:
		t.Fatal("emits past a full buffer must wait for the listener")
	case <-time.After(50 * time.Millisecond):
	}

	done := make(chan struct{})
	go func() {
		events.NewRegistryEventListener(bus, reg, log).Start(context.Background())
		close(done)
	}()
	select {
	case <-emitted:
	case <-time.After(5 * time.Second):
		t.Fatal("blocked emits were not released by the listener")
	}
	bus.Close()
	<-done

	assert.Equal(t, uint32(7), reg.Epoch())
	spent, ok := reg.Spent("w1")
	require.True(t, ok)
	assert.Equal(t, int64(10), spent, "only the spend after the epoch change counts")
	assert.Equal(t, 0.0, testutil.ToFloat64(bus.Collector()))
}

func TestEmitContextCancelled(t *testing.T) {
	bus := events.NewChannelEventBus(1, logger.NewLogger("error", "text", io.Discard))
	require.NoError(t, bus.EmitContext(context.Background(), cmevents.Event{Type: cmevents.AllocationsUpdated}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := bus.EmitContext(ctx, cmevents.Event{Type: cmevents.EpochAdvanced, Epoch: 2})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Len(t, bus.GetChannel(), 1)
}

func TestCloseReleasesBlockedEmit(t *testing.T) {
	bus := events.NewChannelEventBus(1, logger.NewLogger("error", "text", io.Discard))
	bus.Emit(cmevents.Event{Type: cmevents.AllocationsUpdated})

	result := make(chan error, 1)
	go func() {
		result <- bus.EmitContext(context.Background(), cmevents.Event{Type: cmevents.EpochAdvanced, Epoch: 2})
	}()
	time.Sleep(20 * time.Millisecond)
	bus.Close()

	select {
	case err := <-result:
		assert.ErrorIs(t, err, events.ErrBusClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not release a blocked emit")
	}

	assert.ErrorIs(t, bus.EmitContext(context.Background(), cmevents.Event{Type: cmevents.QueryFinished}), events.ErrBusClosed)
	assert.NotPanics(t, func() {
		bus.Emit(cmevents.Event{Type: cmevents.ComputeUnitsSpent})
		bus.Close()
	})
}

func TestEmitStampsTimestamp(t *testing.T) {
	bus := newQuietBus()
	before := time.Now()
	bus.Emit(cmevents.Event{Type: cmevents.WorkersRegistered})
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	bus.Emit(cmevents.Event{Type: cmevents.WorkersRegistered, Timestamp: fixed})

	first := <-bus.GetChannel()
	assert.False(t, first.Timestamp.Before(before))
	second := <-bus.GetChannel()
	assert.Equal(t, fixed, second.Timestamp)
}

func TestListenerWarnsOnStaleReports(t *testing.T) {
	var logs bytes.Buffer
	log := logger.NewLogger("warn", "text", &logs)
	bus := events.NewChannelEventBus(4, log)
	reg, err := registry.New()
	require.NoError(t, err)

	bus.Emit(cmevents.Event{Type: cmevents.ComputeUnitsSpent, WorkerID: "w1", Amount: 1, Timestamp: time.Now().Add(-time.Minute)})
	bus.Emit(cmevents.Event{Type: cmevents.ComputeUnitsSpent, WorkerID: "w1", Amount: 1})
	bus.Close()
	events.NewRegistryEventListener(bus, reg, log).Start(context.Background())

	assert.Equal(t, 1, strings.Count(logs.String(), "lagging its producers"))
	spent, _ := reg.Spent("w1")
	assert.Equal(t, int64(2), spent)
}

func TestConstructorsPanicOnNil(t *testing.T) {
	assert.Panics(t, func() { events.NewChannelEventBus(1, nil) })
	assert.Panics(t, func() { events.NewRegistryEventListener(nil, nil, nil) })
}
