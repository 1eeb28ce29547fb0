package task_test

import (
	"testing"
	"time"

	"github.com/gxo-labs/cumetrics/pkg/cumetrics/v1/task"
	"github.com/stretchr/testify/assert"
)

func TestStatusCode(t *testing.T) {
	testCases := []struct {
		status task.Status
		code   string
	}{
		{task.StatusOK, "ok"},
		{task.StatusBadRequest, "bad_request"},
		{task.StatusServerError, "server_error"},
		{task.StatusTimeout, "timeout"},
		{task.StatusServerOverloaded, "server_overloaded"},
		{task.StatusNoAllocation, "no_allocation"},
		{task.Status(99), "unknown"},
	}
	for _, tc := range testCases {
		t.Run(tc.code, func(t *testing.T) {
			assert.Equal(t, tc.code, tc.status.Code())
			assert.Equal(t, tc.code, tc.status.String())
		})
	}
}

func TestFinishedExecTimeMs(t *testing.T) {
	f := task.Finished{WorkerID: "w1", Status: task.StatusTimeout, ExecTime: 2500*time.Millisecond + 700*time.Microsecond}
	assert.Equal(t, "w1", f.Worker())
	assert.Equal(t, "timeout", f.StatusCode())
	assert.Equal(t, uint64(2500), f.ExecTimeMs(), "sub-millisecond remainder is truncated")

	assert.Equal(t, uint64(0), task.Finished{ExecTime: -time.Second}.ExecTimeMs())
}

func TestParseStatus(t *testing.T) {
	for _, s := range []task.Status{task.StatusOK, task.StatusTimeout, task.StatusNoAllocation} {
		parsed, ok := task.ParseStatus(s.Code())
		assert.True(t, ok)
		assert.Equal(t, s, parsed)
	}
	_, ok := task.ParseStatus("unknown")
	assert.False(t, ok)
	_, ok = task.ParseStatus("OK")
	assert.False(t, ok)
}
