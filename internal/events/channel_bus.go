package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gxo-labs/cumetrics/pkg/cumetrics/v1/events"
	cmlog "github.com/gxo-labs/cumetrics/pkg/cumetrics/v1/log"
)

const defaultBufferSize = 256

// ErrBusClosed is returned when a report is emitted after Close.
var ErrBusClosed = errors.New("event bus is closed")

// ChannelEventBus implements events.Bus with a buffered channel.
//
// QueryFinished reports are sampled observations and are dropped, counted
// and logged when the buffer is full. Every other report changes epoch
// scoped state and waits for room instead.
type ChannelEventBus struct {
	channel chan events.Event
	log     cmlog.Logger
	dropped prometheus.Counter
	now     func() time.Time

	// mu is read-held by senders and write-held by Close, so the channel is
	// never closed under a pending send. done releases blocked senders first.
	mu     sync.RWMutex
	closed bool
	done   chan struct{}
	once   sync.Once
}

// NewChannelEventBus creates a bus holding up to bufferSize pending events
// (defaultBufferSize when non-positive). Panics if log is nil.
func NewChannelEventBus(bufferSize int, log cmlog.Logger) *ChannelEventBus {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	if log == nil {
		panic("ChannelEventBus requires a non-nil logger")
	}
	bus := &ChannelEventBus{
		channel: make(chan events.Event, bufferSize),
		log:     log.With("component", "ChannelEventBus"),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cumetrics_events_dropped_total",
			Help: "QueryFinished reports dropped because the event buffer was full.",
		}),
		now:  time.Now,
		done: make(chan struct{}),
	}
	bus.log.Debugf("ChannelEventBus initialized with buffer size %d", bufferSize)
	return bus
}

// Collector returns the dropped-events counter for registration.
func (c *ChannelEventBus) Collector() prometheus.Collector {
	return c.dropped
}

// Emit implements events.Bus. A state report emitted while the buffer is
// full blocks until the listener catches up or the bus is closed.
func (c *ChannelEventBus) Emit(event events.Event) {
	if err := c.EmitContext(context.Background(), event); err != nil {
		c.log.Warnf("Event '%s' not delivered: %v", event.Type, err)
	}
}

// EmitContext queues event, stamping Timestamp when it is zero. It returns
// ErrBusClosed after Close, or ctx.Err() when ctx ends before a state report
// could be queued. A dropped QueryFinished report is not an error.
func (c *ChannelEventBus) EmitContext(ctx context.Context, event events.Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = c.now()
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrBusClosed
	}

	if event.Type == events.QueryFinished {
		select {
		case c.channel <- event:
		default:
			c.dropped.Inc()
			c.log.Warnf("Event channel buffer full, dropping event type '%s'", event.Type)
		}
		return nil
	}

	select {
	case c.channel <- event:
		return nil
	case <-c.done:
		return ErrBusClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetChannel returns the receive side of the bus for listeners.
func (c *ChannelEventBus) GetChannel() <-chan events.Event {
	return c.channel
}

// Close stops accepting reports and closes the channel; listeners drain what
// is buffered and stop. Safe to call more than once.
func (c *ChannelEventBus) Close() {
	c.once.Do(func() {
		c.log.Debugf("Closing ChannelEventBus channel.")
		close(c.done)
		c.mu.Lock()
		c.closed = true
		close(c.channel)
		c.mu.Unlock()
	})
}

var _ events.Bus = (*ChannelEventBus)(nil)
