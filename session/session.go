// Package session tracks the interactive flows active on one connection.
//
// A session is started by an outbound call that expects the peer to call back into us (prompt the user,
// pick a key, report progress). The session id travels as the ordinary `sessionID` parameter of the
// forward call and of every callback that belongs to the flow. The registry only remembers the owning
// call id, never the call itself.
package session

import "sync"

// Registry is owned by one connection, so separate connections never share an id space.
type Registry struct {
	mu     sync.Mutex
	next   int
	active map[int]uint32 // session id → owning call id (0 until bound)
}

func NewRegistry() *Registry {
	return &Registry{active: make(map[int]uint32)}
}

// Begin allocates a session id that is unique among active sessions. Ids increase monotonically,
// wrap at the int32 range so they fit any peer's integer type, and are never 0.
func (r *Registry) Begin() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for {
		r.next++
		if r.next <= 0 || r.next > 1<<31-1 {
			r.next = 1
		}
		if _, busy := r.active[r.next]; !busy {
			r.active[r.next] = 0
			return r.next
		}
	}
}

// Bind records the call that owns sessionID. It is a no-op for an inactive session.
func (r *Registry) Bind(sessionID int, callID uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.active[sessionID]; ok {
		r.active[sessionID] = callID
	}
}

// End deactivates sessionID. Ending an unknown or already-ended session is a no-op.
func (r *Registry) End(sessionID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, sessionID)
}

func (r *Registry) IsActive(sessionID int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[sessionID]
	return ok
}

// Owner returns the call id that owns an active session.
func (r *Registry) Owner(sessionID int) (uint32, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.active[sessionID]
	return id, ok
}

// Clear ends every active session; used on connection teardown.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.active)
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}
