// Package notify fans job snapshots out to live subscribers.
//
// Workers publish every progress change and terminal write to a Redis channel.
// Each API instance relays that channel into a Hub, a registry keyed by job id
// holding the set of subscribers currently streaming that job.
package notify

import (
	"sync"

	"receipt-scan-service/internal/entity"
)

type subscriber struct {
	ch chan entity.Snapshot
}

type Hub struct {
	mu   sync.Mutex
	subs map[string]map[*subscriber]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*subscriber]struct{})}
}

// Subscribe registers interest in jobID. The returned cancel func must be called
// to unregister; it is safe to call more than once.
func (h *Hub) Subscribe(jobID string) (<-chan entity.Snapshot, func()) {
	s := &subscriber{ch: make(chan entity.Snapshot, 1)}

	h.mu.Lock()
	set, ok := h.subs[jobID]
	if !ok {
		set = make(map[*subscriber]struct{})
		h.subs[jobID] = set
	}
	set[s] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if set, ok := h.subs[jobID]; ok {
				delete(set, s)
				if len(set) == 0 {
					delete(h.subs, jobID)
				}
			}
		})
	}
	return s.ch, cancel
}

// Broadcast delivers snap to every subscriber of its job. A subscriber that has
// not consumed the previous snapshot gets it replaced by the newer one.
func (h *Hub) Broadcast(snap entity.Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for s := range h.subs[snap.JobID] {
		select {
		case s.ch <- snap:
			continue
		default:
		}
		// drop the stale snapshot, keep the latest
		select {
		case <-s.ch:
		default:
		}
		select {
		case s.ch <- snap:
		default:
		}
	}
}

// Subscribers returns how many subscribers jobID currently has.
func (h *Hub) Subscribers(jobID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[jobID])
}
