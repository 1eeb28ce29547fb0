package registry

import (
	"strings"
	"sync"
	"sync/atomic"
)

// sanitizeLabel replaces invalid UTF-8 in a label value so that a single bad
// worker id or status can never make the whole exposition fail.
func sanitizeLabel(v string) string {
	return strings.ToValidUTF8(v, "\uFFFD")
}

// gaugeFamily is a set of integer gauges keyed by worker id. Series are
// created on first write and only disappear through reset.
type gaugeFamily struct {
	mu    sync.RWMutex
	cells map[string]*atomic.Int64
}

func newGaugeFamily() *gaugeFamily {
	return &gaugeFamily{cells: make(map[string]*atomic.Int64)}
}

// apply runs fn against the cell for worker, creating the cell if needed.
// A lock is held for the duration of fn so a concurrent reset can never
// swallow a write into a cell that is no longer reachable.
func (g *gaugeFamily) apply(worker string, fn func(cell *atomic.Int64)) {
	worker = sanitizeLabel(worker)
	g.mu.RLock()
	if cell, ok := g.cells[worker]; ok {
		fn(cell)
		g.mu.RUnlock()
		return
	}
	g.mu.RUnlock()

	g.mu.Lock()
	defer g.mu.Unlock()
	cell, ok := g.cells[worker]
	if !ok {
		cell = new(atomic.Int64)
		g.cells[worker] = cell
	}
	fn(cell)
}

func (g *gaugeFamily) set(worker string, value int64) {
	g.apply(worker, func(cell *atomic.Int64) { cell.Store(value) })
}

func (g *gaugeFamily) add(worker string, delta int64) {
	g.apply(worker, func(cell *atomic.Int64) { cell.Add(delta) })
}

func (g *gaugeFamily) get(worker string) (int64, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	cell, ok := g.cells[sanitizeLabel(worker)]
	if !ok {
		return 0, false
	}
	return cell.Load(), true
}

// reset drops every series in the family.
func (g *gaugeFamily) reset() {
	g.mu.Lock()
	g.cells = make(map[string]*atomic.Int64)
	g.mu.Unlock()
}

// snapshot copies the current value of every series.
func (g *gaugeFamily) snapshot() map[string]int64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[string]int64, len(g.cells))
	for worker, cell := range g.cells {
		out[worker] = cell.Load()
	}
	return out
}
