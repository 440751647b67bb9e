package mcp

import (
	"sort"
	"sync"
)

// SessionRegistry maps flow IDs to the MCP sessions watching their runs.
// A session starts watching a flow when it triggers it.
type SessionRegistry struct {
	mu       sync.RWMutex
	watchers map[string]map[string]struct{} // flowID → sessionIDs
}

// NewSessionRegistry creates a new empty SessionRegistry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{watchers: make(map[string]map[string]struct{})}
}

// Watch adds sessionID to the watchers of flowID.
func (r *SessionRegistry) Watch(flowID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.watchers[flowID]
	if !ok {
		set = make(map[string]struct{})
		r.watchers[flowID] = set
	}
	set[sessionID] = struct{}{}
}

// Watchers returns the sessions watching flowID, sorted.
func (r *SessionRegistry) Watchers(flowID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.watchers[flowID]
	out := make([]string, 0, len(set))
	for sid := range set {
		out = append(out, sid)
	}
	sort.Strings(out)
	return out
}

// Remove drops sessionID from every flow it watches.
// Called when a session disconnects.
func (r *SessionRegistry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for flowID, set := range r.watchers {
		delete(set, sessionID)
		if len(set) == 0 {
			delete(r.watchers, flowID)
		}
	}
}
