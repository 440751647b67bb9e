package engine

import (
	"sync"

	"github.com/dmscode/dmsflow/pkg/schema"
)

// DefaultHistorySize is how many results History keeps when unset.
const DefaultHistorySize = 200

// History is a bounded in-memory ring of recent execution results.
// It is not persisted.
type History struct {
	mu    sync.RWMutex
	buf   []*schema.ExecutionResult
	next  int
	count int
}

// NewHistory creates a ring holding up to size results.
func NewHistory(size int) *History {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &History{buf: make([]*schema.ExecutionResult, size)}
}

// Add records r, evicting the oldest result when full.
func (h *History) Add(r *schema.ExecutionResult) {
	if h == nil || r == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buf[h.next] = r
	h.next = (h.next + 1) % len(h.buf)
	if h.count < len(h.buf) {
		h.count++
	}
}

// List returns up to limit results, newest first. limit <= 0 returns all.
func (h *History) List(limit int) []*schema.ExecutionResult {
	return h.filter(limit, func(*schema.ExecutionResult) bool { return true })
}

// ForFlow returns up to limit results of one flow, newest first.
func (h *History) ForFlow(flowID string, limit int) []*schema.ExecutionResult {
	return h.filter(limit, func(r *schema.ExecutionResult) bool { return r.FlowID == flowID })
}

// Len returns the number of results held.
func (h *History) Len() int {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

func (h *History) filter(limit int, keep func(*schema.ExecutionResult) bool) []*schema.ExecutionResult {
	if h == nil {
		return []*schema.ExecutionResult{}
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]*schema.ExecutionResult, 0, h.count)
	for i := 1; i <= h.count; i++ {
		r := h.buf[(h.next-i+len(h.buf))%len(h.buf)]
		if !keep(r) {
			continue
		}
		out = append(out, r)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
