package registry

import (
	"sort"
	"sync"
)

type serverSlot struct {
	handle         *ServerHandle
	active         bool
	running        bool
	backupRefCount int
}

// ServerRegistry is the NS's fixed-capacity server table (spec.md §4.3). A
// single coarse mutex guards the whole table, matching the spec's "one
// coarse mutex guards the whole table for structural changes; read-only
// queries take the same mutex" shared-resource policy (§5) — this
// deliberately does not use sync.RWMutex, since even IsActive must observe
// a fully-consistent slot during a concurrent AddServer/RemoveServer.
type ServerRegistry struct {
	mu       sync.Mutex
	slots    []serverSlot
	byID     map[uint64]int
	capacity int
}

func NewServerRegistry(capacity int) *ServerRegistry {
	return &ServerRegistry{
		slots:    make([]serverSlot, 0, capacity),
		byID:     make(map[uint64]int),
		capacity: capacity,
	}
}

// AddServer registers handle, reactivating an existing slot with the same
// server id if one exists (idempotent re-registration after a reconnect).
func (r *ServerRegistry) AddServer(handle *ServerHandle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if idx, ok := r.byID[handle.ServerID]; ok {
		r.slots[idx].handle = handle
		r.slots[idx].active = true
		r.slots[idx].running = true
		return nil
	}

	for i := range r.slots {
		if !r.slots[i].active {
			r.slots[i] = serverSlot{handle: handle, active: true, running: true}
			r.byID[handle.ServerID] = i
			return nil
		}
	}

	if len(r.slots) >= r.capacity {
		return &ErrCapacityExhausted{What: "server"}
	}

	r.slots = append(r.slots, serverSlot{handle: handle, active: true, running: true})
	r.byID[handle.ServerID] = len(r.slots) - 1
	return nil
}

// RemoveServer clears a running slot (ungraceful or graceful disconnect).
func (r *ServerRegistry) RemoveServer(id uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, ok := r.byID[id]
	if !ok || !r.slots[idx].active {
		return &ErrUnknown{What: "server", ID: id}
	}
	r.slots[idx].active = false
	r.slots[idx].running = false
	delete(r.byID, id)
	return nil
}

func (r *ServerRegistry) SetInactive(id uint64) error {
	return r.setRunning(id, false)
}

func (r *ServerRegistry) SetActive(id uint64) error {
	return r.setRunning(id, true)
}

func (r *ServerRegistry) setRunning(id uint64, running bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, ok := r.byID[id]
	if !ok || !r.slots[idx].active {
		return &ErrUnknown{What: "server", ID: id}
	}
	r.slots[idx].running = running
	return nil
}

func (r *ServerRegistry) IsActive(id uint64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, ok := r.byID[id]
	if !ok || !r.slots[idx].active {
		return false, &ErrUnknown{What: "server", ID: id}
	}
	return r.slots[idx].running, nil
}

// Get returns the handle for id, if active.
func (r *ServerRegistry) Get(id uint64) (*ServerHandle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, ok := r.byID[id]
	if !ok || !r.slots[idx].active {
		return nil, false
	}
	return r.slots[idx].handle, true
}

// AssignBackups selects n distinct running, active servers other than id,
// preferring the smallest current backup_refcount (spec.md §4.3), and fails
// if fewer than n such servers exist. Idempotent: if id already has a
// non-empty backup list, it is left alone.
func (r *ServerRegistry) AssignBackups(id uint64, n int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, ok := r.byID[id]
	if !ok || !r.slots[idx].active {
		return &ErrUnknown{What: "server", ID: id}
	}
	if n == 0 {
		return nil
	}
	if len(r.slots[idx].handle.Backups) > 0 {
		return nil
	}

	type candidate struct {
		slotIdx int
		refs    int
	}
	var candidates []candidate
	for i := range r.slots {
		if i == idx || !r.slots[i].active || !r.slots[i].running {
			continue
		}
		candidates = append(candidates, candidate{slotIdx: i, refs: r.slots[i].backupRefCount})
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].refs < candidates[j].refs
	})

	if len(candidates) < n {
		return &ErrCapacityExhausted{What: "backup candidates"}
	}

	ids := make([]uint64, 0, n)
	for _, c := range candidates[:n] {
		ids = append(ids, r.slots[c.slotIdx].handle.ServerID)
		r.slots[c.slotIdx].backupRefCount++
	}
	r.slots[idx].handle.Backups = ids
	return nil
}

// GetActiveBackup scans backupIDs in order and returns the first one that is
// currently running.
func (r *ServerRegistry) GetActiveBackup(backupIDs []uint64) (uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range backupIDs {
		idx, ok := r.byID[id]
		if ok && r.slots[idx].active && r.slots[idx].running {
			return id, true
		}
	}
	return 0, false
}

// Count returns the number of currently active server slots.
func (r *ServerRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, s := range r.slots {
		if s.active {
			n++
		}
	}
	return n
}
