package mcp

import (
	"slices"
	"sync"
)

// SessionRegistry maps bot IDs to the MCP sessions watching them.
type SessionRegistry struct {
	mu       sync.RWMutex
	watchers map[string]map[string]struct{} // botID → sessionIDs
}

// NewSessionRegistry creates a new empty SessionRegistry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{watchers: make(map[string]map[string]struct{})}
}

// Watch subscribes a session to a bot. Repeated calls are no-ops.
func (r *SessionRegistry) Watch(botID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.watchers[botID]
	if !ok {
		set = make(map[string]struct{})
		r.watchers[botID] = set
	}
	set[sessionID] = struct{}{}
}

// Watchers returns the sessions watching a bot, sorted.
func (r *SessionRegistry) Watchers(botID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.watchers[botID]))
	for sid := range r.watchers[botID] {
		out = append(out, sid)
	}
	slices.Sort(out)
	return out
}

// Remove drops a session from every bot it watches.
// Called when a session disconnects.
func (r *SessionRegistry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for bot, set := range r.watchers {
		delete(set, sessionID)
		if len(set) == 0 {
			delete(r.watchers, bot)
		}
	}
}
