package broker

// registry maps session identities to their delivery handles.
// It is owned by the Broker goroutine and is not safe for concurrent use.
type registry struct {
	sessions map[SessionID]Outbound
}

func newRegistry() *registry {
	return &registry{sessions: make(map[SessionID]Outbound)}
}

func (r *registry) has(id SessionID) bool {
	_, ok := r.sessions[id]
	return ok
}

func (r *registry) add(id SessionID, out Outbound) {
	r.sessions[id] = out
}

// remove reports whether id was registered.
func (r *registry) remove(id SessionID) bool {
	if _, ok := r.sessions[id]; !ok {
		return false
	}
	delete(r.sessions, id)
	return true
}

func (r *registry) get(id SessionID) (Outbound, bool) {
	out, ok := r.sessions[id]
	return out, ok
}

func (r *registry) len() int {
	return len(r.sessions)
}
