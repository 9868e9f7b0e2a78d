package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/ametov/parley/internal/core"
	"github.com/ametov/parley/internal/domain"
)

// roomEntry owns the room's router handle exclusively and serializes its own
// membership mutation, so two concurrent joins cannot lose an update.
type roomEntry struct {
	mu      sync.Mutex
	router  core.Router
	members map[domain.PeerID]struct{}
}

// RoomRegistry maps a room name to its routing context and member set.
// Rooms persist after the last member leaves unless closeEmpty is set.
type RoomRegistry struct {
	mu         sync.RWMutex
	engine     core.MediaEngine
	closeEmpty bool
	rooms      map[domain.RoomName]*roomEntry
}

func NewRoomRegistry(engine core.MediaEngine, closeEmpty bool) *RoomRegistry {
	return &RoomRegistry{
		engine:     engine,
		closeEmpty: closeEmpty,
		rooms:      make(map[domain.RoomName]*roomEntry),
	}
}

// GetOrCreate attaches the peer to the named room, creating the router on
// first join. Re-joining is idempotent: the member set cannot hold a peer twice.
func (r *RoomRegistry) GetOrCreate(ctx context.Context, name domain.RoomName, pid domain.PeerID) (core.Router, error) {
	r.mu.Lock()
	entry, ok := r.rooms[name]
	if !ok {
		entry = &roomEntry{members: make(map[domain.PeerID]struct{})}
		r.rooms[name] = entry
	}
	r.mu.Unlock()

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.router == nil {
		router, err := r.engine.CreateRouter(ctx)
		if err != nil {
			r.dropIfEmpty(name, entry)
			return nil, fmt.Errorf("create router for %q: %w", name, err)
		}
		entry.router = router
		log.Info().Str("module", "app.rooms").Str("room", string(name)).Msg("created room router")
	}
	entry.members[pid] = struct{}{}
	log.Info().Str("module", "app.rooms").Str("room", string(name)).Str("peer", string(pid)).Int("members", len(entry.members)).Msg("member joined")
	return entry.router, nil
}

// Router returns the room's routing context.
func (r *RoomRegistry) Router(name domain.RoomName) (core.Router, error) {
	r.mu.RLock()
	entry, ok := r.rooms[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("room %q: %w", name, core.ErrNotFound)
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.router == nil {
		return nil, fmt.Errorf("room %q: %w", name, core.ErrNotFound)
	}
	return entry.router, nil
}

// RemoveMember detaches the peer. A missing room or member is a no-op since
// disconnect may race with other cleanup.
func (r *RoomRegistry) RemoveMember(name domain.RoomName, pid domain.PeerID) {
	r.mu.RLock()
	entry, ok := r.rooms[name]
	r.mu.RUnlock()
	if !ok {
		return
	}

	entry.mu.Lock()
	delete(entry.members, pid)
	empty := len(entry.members) == 0
	entry.mu.Unlock()
	log.Info().Str("module", "app.rooms").Str("room", string(name)).Str("peer", string(pid)).Msg("member removed")

	if empty && r.closeEmpty {
		r.closeRoom(name, entry)
	}
}

// Members returns a snapshot of the member set.
func (r *RoomRegistry) Members(name domain.RoomName) []domain.PeerID {
	r.mu.RLock()
	entry, ok := r.rooms[name]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	out := make([]domain.PeerID, 0, len(entry.members))
	for pid := range entry.members {
		out = append(out, pid)
	}
	return out
}

func (r *RoomRegistry) Exists(name domain.RoomName) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[name]
	return ok
}

func (r *RoomRegistry) MemberCount(name domain.RoomName) int {
	r.mu.RLock()
	entry, ok := r.rooms[name]
	r.mu.RUnlock()
	if !ok {
		return 0
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return len(entry.members)
}

func (r *RoomRegistry) dropIfEmpty(name domain.RoomName, entry *roomEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.rooms[name]; ok && cur == entry && len(entry.members) == 0 && entry.router == nil {
		delete(r.rooms, name)
	}
}

func (r *RoomRegistry) closeRoom(name domain.RoomName, entry *roomEntry) {
	r.mu.Lock()
	cur, ok := r.rooms[name]
	if !ok || cur != entry {
		r.mu.Unlock()
		return
	}
	delete(r.rooms, name)
	r.mu.Unlock()

	entry.mu.Lock()
	// A join may have slipped in between the emptiness check and here;
	// in that case the entry is already detached, re-home the members.
	if len(entry.members) > 0 {
		entry.mu.Unlock()
		r.mu.Lock()
		if _, exists := r.rooms[name]; !exists {
			r.rooms[name] = entry
		}
		r.mu.Unlock()
		return
	}
	router := entry.router
	entry.router = nil
	entry.mu.Unlock()
	if router != nil {
		router.Close()
	}
	log.Info().Str("module", "app.rooms").Str("room", string(name)).Msg("closed empty room")
}
