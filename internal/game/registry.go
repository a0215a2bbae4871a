package game

import (
	"log"
	"sync"
)

// =============================================================================
// ROOM REGISTRY
// =============================================================================

// Registry owns the process-wide room map. It is constructed once and
// injected into the gateway; rooms reach back into it only to remove
// themselves. The registry mutex is held briefly across lookup-or-insert and
// is distinct from every room's own mutex — rooms never lock each other.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*Room

	sessions SessionStore
	reporter OutcomeReporter
}

func NewRegistry(sessions SessionStore, reporter OutcomeReporter) *Registry {
	return &Registry{
		rooms:    make(map[string]*Room),
		sessions: sessions,
		reporter: reporter,
	}
}

// GetOrCreate returns the room for id, creating it if absent. Concurrent
// calls with the same unseen id observe the same instance.
func (reg *Registry) GetOrCreate(id string) *Room {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if room, ok := reg.rooms[id]; ok {
		return room
	}

	room := newRoom(id, reg, reg.sessions, reg.reporter)
	reg.rooms[id] = room
	log.Printf("[Registry] Created room %s (total: %d)", id, len(reg.rooms))
	return room
}

// Get returns the room for id without creating one.
func (reg *Registry) Get(id string) (*Room, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	room, ok := reg.rooms[id]
	return room, ok
}

func (reg *Registry) Exists(id string) bool {
	_, ok := reg.Get(id)
	return ok
}

// Remove deletes the room from the map. Idempotent.
func (reg *Registry) Remove(id string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if _, ok := reg.rooms[id]; ok {
		delete(reg.rooms, id)
		log.Printf("[Registry] Removed room %s (total: %d)", id, len(reg.rooms))
	}
}

// Count reports the number of live rooms.
func (reg *Registry) Count() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.rooms)
}
