package engine

import "sync"

// Registry maps live auction IDs to their lanes. Lookups are frequent and
// structural changes rare, so a single RWMutex is enough.
type Registry struct {
	mu    sync.RWMutex
	lanes map[uint]*lane
}

func NewRegistry() *Registry {
	return &Registry{lanes: make(map[uint]*lane)}
}

func (r *Registry) Get(auctionID uint) (*lane, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.lanes[auctionID]
	return l, ok
}

// PutIfAbsent installs a lane unless another caller won the race, in
// which case the existing lane is returned and the new one is discarded.
func (r *Registry) PutIfAbsent(auctionID uint, l *lane) (*lane, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.lanes[auctionID]; ok {
		return existing, false
	}
	r.lanes[auctionID] = l
	return l, true
}

// Remove evicts a lane from the registry. New commands will no longer
// find it; the caller is responsible for halting the goroutine.
func (r *Registry) Remove(auctionID uint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.lanes, auctionID)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.lanes)
}

// Drain removes every lane and returns them, used on shutdown.
func (r *Registry) Drain() []*lane {
	r.mu.Lock()
	defer r.mu.Unlock()
	lanes := make([]*lane, 0, len(r.lanes))
	for id, l := range r.lanes {
		lanes = append(lanes, l)
		delete(r.lanes, id)
	}
	return lanes
}
