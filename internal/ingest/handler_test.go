package ingest_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gxo-labs/cumetrics/internal/events"
	"github.com/gxo-labs/cumetrics/internal/ingest"
	"github.com/gxo-labs/cumetrics/internal/logger"
	"github.com/gxo-labs/cumetrics/internal/registry"
	"github.com/gxo-labs/cumetrics/internal/tracing"
)

func newHandler(t *testing.T, bus *events.ChannelEventBus) *ingest.Handler {
	t.Helper()
	return ingest.NewHandler(bus, tracing.NewNoOpProvider(), logger.NewLogger("error", "text", io.Discard))
}

func post(h http.Handler, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/reports", strings.NewReader(body)))
	return rec
}

func TestIngestAppliesReportsInOrder(t *testing.T) {
	log := logger.NewLogger("error", "text", io.Discard)
	bus := events.NewChannelEventBus(16, log)
	reg, err := registry.New()
	require.NoError(t, err)
	h := newHandler(t, bus)

	rec := post(h, `{"reports": [
		{"type": "WorkersRegistered", "worker_ids": ["w1", "w2"]},
		{"type": "ComputeUnitsSpent", "worker_id": "w1", "amount": 99},
		{"type": "EpochAdvanced", "epoch": 4, "allocations": [{"worker_id": "w1", "compute_units": 100}]},
		{"type": "ComputeUnitsSpent", "worker_id": "w1", "amount": 30},
		{"type": "QueryFinished", "worker_id": "w1", "status": "timeout", "exec_time_ms": 2500}
	]}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var resp struct{ Accepted int }
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 5, resp.Accepted)

	bus.Close()
	events.NewRegistryEventListener(bus, reg, log).Start(context.Background())

	assert.Equal(t, uint32(4), reg.Epoch())
	allocated, _ := reg.Allocated("w1")
	assert.Equal(t, int64(100), allocated)
	spent, _ := reg.Spent("w1")
	assert.Equal(t, int64(30), spent)
	text, err := reg.Render()
	require.NoError(t, err)
	assert.Contains(t, text, `query_duration_sum{status="timeout",worker_id="w1"} 2.5`)
}

func TestIngestRejectsInvalidBatches(t *testing.T) {
	testCases := []struct {
		name    string
		body    string
		message string
	}{
		{name: "Malformed JSON", body: `{"reports": [`, message: "invalid request body"},
		{name: "Unknown Field", body: `{"reports": [{"type": "EpochAdvanced", "epoch": 1, "extra": true}]}`, message: "invalid request body"},
		{name: "Unknown Type", body: `{"reports": [{"type": "Reboot"}]}`, message: "unknown report type 'Reboot'"},
		{name: "Missing Epoch", body: `{"reports": [{"type": "EpochAdvanced"}]}`, message: "field 'epoch'"},
		{name: "Missing Worker", body: `{"reports": [{"type": "ComputeUnitsSpent", "amount": 1}]}`, message: "field 'worker_id'"},
		{name: "Unknown Status", body: `{"reports": [{"type": "QueryFinished", "worker_id": "w1", "status": "fine"}]}`, message: "unknown status 'fine'"},
		{name: "Empty Registration", body: `{"reports": [{"type": "WorkersRegistered"}]}`, message: "field 'worker_ids'"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			bus := events.NewChannelEventBus(4, logger.NewLogger("error", "text", io.Discard))
			rec := post(newHandler(t, bus), tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), tc.message)
			assert.Empty(t, bus.GetChannel(), "nothing from a rejected batch is queued")
		})
	}
}

func TestIngestValidatesWholeBatchFirst(t *testing.T) {
	bus := events.NewChannelEventBus(4, logger.NewLogger("error", "text", io.Discard))
	rec := post(newHandler(t, bus), `{"reports": [
		{"type": "ComputeUnitsSpent", "worker_id": "w1", "amount": 5},
		{"type": "QueryFinished", "worker_id": "w1", "status": "nope"}
	]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "report 1")
	assert.Empty(t, bus.GetChannel())
}

func TestIngestClosedBus(t *testing.T) {
	bus := events.NewChannelEventBus(4, logger.NewLogger("error", "text", io.Discard))
	bus.Close()
	rec := post(newHandler(t, bus), `{"reports": [{"type": "EpochAdvanced", "epoch": 1}]}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"accepted":0`)
}

func TestIngestMethodAndSize(t *testing.T) {
	bus := events.NewChannelEventBus(4, logger.NewLogger("error", "text", io.Discard))
	h := newHandler(t, bus)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/reports", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, http.MethodPost, rec.Header().Get("Allow"))

	huge := `{"reports": [{"type": "WorkersRegistered", "worker_ids": ["` + strings.Repeat("w", 2<<20) + `"]}]}`
	rec = post(h, huge)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestNewHandlerPanicsOnNil(t *testing.T) {
	assert.Panics(t, func() { ingest.NewHandler(nil, nil, nil) })
}
