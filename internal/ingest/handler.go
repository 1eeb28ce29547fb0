// Package ingest accepts registry reports from the allocation and
// worker-execution subsystems over HTTP and queues them on the event bus.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	cmerrors "github.com/gxo-labs/cumetrics/pkg/cumetrics/v1/errors"
	"github.com/gxo-labs/cumetrics/pkg/cumetrics/v1/events"
	cmlog "github.com/gxo-labs/cumetrics/pkg/cumetrics/v1/log"
	"github.com/gxo-labs/cumetrics/pkg/cumetrics/v1/task"
	cmtracing "github.com/gxo-labs/cumetrics/pkg/cumetrics/v1/tracing"
)

const (
	tracerName   = "github.com/gxo-labs/cumetrics/internal/ingest"
	maxBodyBytes = 1 << 20
)

// Emitter queues a report, waiting for room when the report must not be lost.
type Emitter interface {
	EmitContext(ctx context.Context, event events.Event) error
}

// Report is the wire form of one registry report. Only the fields relevant
// to Type are read.
type Report struct {
	Type        string            `json:"type"`
	Timestamp   *time.Time        `json:"timestamp,omitempty"`
	WorkerIDs   []string          `json:"worker_ids,omitempty"`
	Epoch       *uint32           `json:"epoch,omitempty"`
	Allocations []task.Allocation `json:"allocations,omitempty"`
	WorkerID    string            `json:"worker_id,omitempty"`
	Amount      uint32            `json:"amount,omitempty"`
	Status      string            `json:"status,omitempty"`
	ExecTimeMs  uint64            `json:"exec_time_ms,omitempty"`
}

// Batch is the request body: reports are applied in order.
type Batch struct {
	Reports []Report `json:"reports"`
}

type acceptedResponse struct {
	Accepted int `json:"accepted"`
}

type errorResponse struct {
	Error    string `json:"error"`
	Accepted int    `json:"accepted"`
}

// Handler turns POSTed batches into bus events. A batch is validated as a
// whole before anything is queued.
type Handler struct {
	emitter Emitter
	tracers cmtracing.TracerProvider
	log     cmlog.Logger
}

// NewHandler panics if any dependency is nil.
func NewHandler(emitter Emitter, tracers cmtracing.TracerProvider, log cmlog.Logger) *Handler {
	if emitter == nil || tracers == nil || log == nil {
		panic("ingest.Handler requires a non-nil Emitter, TracerProvider, and Logger")
	}
	return &Handler{emitter: emitter, tracers: tracers, log: log.With("component", "IngestHandler")}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", 0)
		return
	}

	ctx, span := h.tracers.GetTracer(tracerName).Start(req.Context(), "reports.ingest")
	defer span.End()

	var batch Batch
	decoder := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&batch); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large", 0)
			return
		}
		writeError(w, http.StatusBadRequest, "invalid request body", 0)
		return
	}

	evs := make([]events.Event, 0, len(batch.Reports))
	for i, r := range batch.Reports {
		ev, err := r.toEvent()
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("report %d: %v", i, err), 0)
			return
		}
		evs = append(evs, ev)
	}
	span.SetAttributes(attribute.Int("reports.count", len(evs)))

	for i, ev := range evs {
		if err := h.emitter.EmitContext(ctx, ev); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "queueing failed")
			h.log.Warnf("Queued %d of %d reports before failing: %v", i, len(evs), err)
			writeError(w, http.StatusServiceUnavailable, "reports could not be queued", i)
			return
		}
	}
	h.log.Debugf("Queued %d reports", len(evs))
	writeJSON(w, http.StatusAccepted, acceptedResponse{Accepted: len(evs)})
}

func (r Report) toEvent() (events.Event, error) {
	ev := events.Event{Type: events.EventType(r.Type)}
	if r.Timestamp != nil {
		ev.Timestamp = *r.Timestamp
	}

	switch ev.Type {
	case events.WorkersRegistered:
		if len(r.WorkerIDs) == 0 {
			return ev, cmerrors.NewValidationError("worker_ids", "at least one worker id is required", nil)
		}
		ev.WorkerIDs = r.WorkerIDs
	case events.EpochAdvanced:
		if r.Epoch == nil {
			return ev, cmerrors.NewValidationError("epoch", "required field is missing", nil)
		}
		ev.Epoch = *r.Epoch
		ev.Allocations = r.Allocations
	case events.AllocationsUpdated:
		ev.Allocations = r.Allocations
	case events.ComputeUnitsSpent:
		if r.WorkerID == "" {
			return ev, cmerrors.NewValidationError("worker_id", "required field is missing", nil)
		}
		ev.WorkerID = r.WorkerID
		ev.Amount = r.Amount
	case events.QueryFinished:
		if r.WorkerID == "" {
			return ev, cmerrors.NewValidationError("worker_id", "required field is missing", nil)
		}
		status, ok := task.ParseStatus(r.Status)
		if !ok {
			return ev, cmerrors.NewValidationError("status", fmt.Sprintf("unknown status '%s'", r.Status), nil)
		}
		ev.Task = task.Finished{
			WorkerID: r.WorkerID,
			Status:   status,
			ExecTime: time.Duration(r.ExecTimeMs) * time.Millisecond,
		}
	default:
		return ev, cmerrors.NewValidationError("type", fmt.Sprintf("unknown report type '%s'", r.Type), nil)
	}
	return ev, nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string, accepted int) {
	writeJSON(w, status, errorResponse{Error: msg, Accepted: accepted})
}
