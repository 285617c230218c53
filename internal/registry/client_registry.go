package registry

import "sync"

// ClientRegistry is the NS's fixed-capacity client table (spec.md §4.3).
// Same coarse-mutex discipline as ServerRegistry.
type ClientRegistry struct {
	mu       sync.Mutex
	byID     map[uint64]*ClientHandle
	capacity int
}

func NewClientRegistry(capacity int) *ClientRegistry {
	return &ClientRegistry{
		byID:     make(map[uint64]*ClientHandle),
		capacity: capacity,
	}
}

func (r *ClientRegistry) Add(handle *ClientHandle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[handle.ClientID]; ok {
		r.byID[handle.ClientID] = handle
		return nil
	}
	if len(r.byID) >= r.capacity {
		return &ErrCapacityExhausted{What: "client"}
	}
	r.byID[handle.ClientID] = handle
	return nil
}

func (r *ClientRegistry) Remove(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, id)
}

func (r *ClientRegistry) Get(id uint64) (*ClientHandle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.byID[id]
	return h, ok
}

func (r *ClientRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}
