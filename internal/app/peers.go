package app

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/ametov/parley/internal/core"
	"github.com/ametov/parley/internal/domain"
)

type peerEntry struct {
	mu   sync.Mutex
	peer *domain.Peer
	conn core.SignalConnection

	joined           bool
	hasSendTransport bool
}

// PeerRegistry maps connection ids to peer records and their live connection
// handles. Other components look handles up by id and never hold them.
type PeerRegistry struct {
	mu    sync.RWMutex
	peers map[domain.PeerID]*peerEntry
}

func NewPeerRegistry() *PeerRegistry {
	return &PeerRegistry{peers: make(map[domain.PeerID]*peerEntry)}
}

// Create inserts an empty peer record for a fresh connection.
func (r *PeerRegistry) Create(pid domain.PeerID, conn core.SignalConnection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers[pid] = &peerEntry{peer: domain.NewPeer(pid), conn: conn}
	log.Info().Str("module", "app.peers").Str("peer", string(pid)).Msg("created peer")
}

// AttachRoom binds the peer to a room and initializes its resource sets.
// Attaching twice without an intervening destroy is a protocol violation.
func (r *PeerRegistry) AttachRoom(pid domain.PeerID, room domain.RoomName, displayName string) error {
	entry, ok := r.entry(pid)
	if !ok {
		return fmt.Errorf("peer %s: %w", pid, core.ErrNotFound)
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.joined {
		return fmt.Errorf("peer %s already joined %q: %w", pid, entry.peer.RoomName, core.ErrInvalidState)
	}
	entry.joined = true
	entry.peer.RoomName = room
	entry.peer.DisplayName = displayName
	entry.peer.Transports = make(map[domain.TransportID]struct{})
	entry.peer.Producers = make(map[domain.ProducerID]struct{})
	entry.peer.Consumers = make(map[domain.ConsumerID]struct{})
	log.Info().Str("module", "app.peers").Str("peer", string(pid)).Str("room", string(room)).Str("name", displayName).Msg("attached room")
	return nil
}

// DetachRoom rolls a failed join back so the connection may retry.
func (r *PeerRegistry) DetachRoom(pid domain.PeerID) {
	entry, ok := r.entry(pid)
	if !ok {
		return
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.joined = false
	entry.peer.RoomName = ""
}

// Destroy removes and returns the peer record. Absent peer is a no-op since
// disconnect may race with other cleanup.
func (r *PeerRegistry) Destroy(pid domain.PeerID) (*domain.Peer, bool) {
	r.mu.Lock()
	entry, ok := r.peers[pid]
	delete(r.peers, pid)
	r.mu.Unlock()
	if !ok {
		return nil, false
	}
	log.Info().Str("module", "app.peers").Str("peer", string(pid)).Msg("destroyed peer")
	return entry.peer, true
}

func (r *PeerRegistry) Exists(pid domain.PeerID) bool {
	_, ok := r.entry(pid)
	return ok
}

// Room returns the room the peer joined, if any.
func (r *PeerRegistry) Room(pid domain.PeerID) (domain.RoomName, bool) {
	entry, ok := r.entry(pid)
	if !ok {
		return "", false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if !entry.joined {
		return "", false
	}
	return entry.peer.RoomName, true
}

// Conn returns the live connection handle for fan-out pushes.
func (r *PeerRegistry) Conn(pid domain.PeerID) (core.SignalConnection, bool) {
	entry, ok := r.entry(pid)
	if !ok {
		return nil, false
	}
	return entry.conn, true
}

// ClaimSendTransport reserves the peer's singleton send-transport slot.
// A second claim without a release is rejected rather than discovered later
// by filtering.
func (r *PeerRegistry) ClaimSendTransport(pid domain.PeerID) error {
	entry, ok := r.entry(pid)
	if !ok {
		return fmt.Errorf("peer %s: %w", pid, core.ErrNotFound)
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.hasSendTransport {
		return fmt.Errorf("peer %s already has a send transport: %w", pid, core.ErrInvalidState)
	}
	entry.hasSendTransport = true
	return nil
}

// ReleaseSendTransport frees the slot after the send transport closed or its
// creation failed.
func (r *PeerRegistry) ReleaseSendTransport(pid domain.PeerID) {
	entry, ok := r.entry(pid)
	if !ok {
		return
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.hasSendTransport = false
}

// Resource-set updates below return false when the peer is already gone, so a
// suspended handler can abort instead of resurrecting state.

func (r *PeerRegistry) AddTransportID(pid domain.PeerID, id domain.TransportID) bool {
	entry, ok := r.entry(pid)
	if !ok {
		return false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.peer.Transports == nil {
		return false
	}
	entry.peer.Transports[id] = struct{}{}
	return true
}

func (r *PeerRegistry) RemoveTransportID(pid domain.PeerID, id domain.TransportID) {
	entry, ok := r.entry(pid)
	if !ok {
		return
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	delete(entry.peer.Transports, id)
}

func (r *PeerRegistry) AddProducerID(pid domain.PeerID, id domain.ProducerID) bool {
	entry, ok := r.entry(pid)
	if !ok {
		return false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.peer.Producers == nil {
		return false
	}
	entry.peer.Producers[id] = struct{}{}
	return true
}

func (r *PeerRegistry) RemoveProducerID(pid domain.PeerID, id domain.ProducerID) {
	entry, ok := r.entry(pid)
	if !ok {
		return
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	delete(entry.peer.Producers, id)
}

func (r *PeerRegistry) AddConsumerID(pid domain.PeerID, id domain.ConsumerID) bool {
	entry, ok := r.entry(pid)
	if !ok {
		return false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.peer.Consumers == nil {
		return false
	}
	entry.peer.Consumers[id] = struct{}{}
	return true
}

func (r *PeerRegistry) RemoveConsumerID(pid domain.PeerID, id domain.ConsumerID) {
	entry, ok := r.entry(pid)
	if !ok {
		return
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	delete(entry.peer.Consumers, id)
}

func (r *PeerRegistry) entry(pid domain.PeerID) (*peerEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.peers[pid]
	return entry, ok
}
