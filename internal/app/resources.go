package app

import (
	"fmt"
	"sync"

	"github.com/ametov/parley/internal/core"
	"github.com/ametov/parley/internal/domain"
)

// Registry records pair the domain tag with the engine handle. Back-references
// (peer id, room name) are for lookup only; destruction authority flows from
// peer and producer lifecycle events into the registries.

type TransportRecord struct {
	domain.Transport
	Handle core.Transport
}

type ProducerRecord struct {
	domain.Producer
	Handle core.Producer
}

type ConsumerRecord struct {
	domain.Consumer
	Handle core.Consumer
}

// TransportRegistry holds all live transports, insertion ordered.
type TransportRegistry struct {
	mu    sync.RWMutex
	peers *PeerRegistry
	items []*TransportRecord
	byID  map[domain.TransportID]*TransportRecord
}

func NewTransportRegistry(peers *PeerRegistry) *TransportRegistry {
	return &TransportRegistry{peers: peers, byID: make(map[domain.TransportID]*TransportRecord)}
}

// Add inserts the record and tags the owning peer, atomically with respect to
// concurrent reads. Fails when the owner disconnected while the engine call
// was in flight.
func (r *TransportRegistry) Add(rec *TransportRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.peers.AddTransportID(rec.PeerID, rec.ID) {
		return fmt.Errorf("transport owner %s: %w", rec.PeerID, core.ErrNotFound)
	}
	r.items = append(r.items, rec)
	r.byID[rec.ID] = rec
	return nil
}

// Remove drops the record and its peer tag. The handle is not closed here.
func (r *TransportRegistry) Remove(id domain.TransportID) (*TransportRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	delete(r.byID, id)
	r.items = filterTransports(r.items, func(t *TransportRecord) bool { return t.ID != id })
	r.peers.RemoveTransportID(rec.PeerID, rec.ID)
	return rec, true
}

// RemoveByPeer closes and removes every transport owned by the peer.
// No matches is fine.
func (r *TransportRegistry) RemoveByPeer(pid domain.PeerID) []*TransportRecord {
	r.mu.Lock()
	var removed []*TransportRecord
	r.items = filterTransports(r.items, func(t *TransportRecord) bool {
		if t.PeerID != pid {
			return true
		}
		removed = append(removed, t)
		delete(r.byID, t.ID)
		return false
	})
	r.mu.Unlock()
	for _, rec := range removed {
		rec.Handle.Close()
	}
	return removed
}

// FindSendTransport returns the peer's unique non-consumer transport.
func (r *TransportRegistry) FindSendTransport(pid domain.PeerID) (*TransportRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rec := range r.items {
		if rec.PeerID == pid && !rec.IsConsumer {
			return rec, nil
		}
	}
	return nil, fmt.Errorf("send transport of %s: %w", pid, core.ErrNotFound)
}

// FindConsumerTransport matches a client-supplied id against the peer's
// consumer transports; the id may be stale.
func (r *TransportRegistry) FindConsumerTransport(pid domain.PeerID, id domain.TransportID) (*TransportRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.byID[id]
	if !ok || rec.PeerID != pid || !rec.IsConsumer {
		return nil, fmt.Errorf("consumer transport %s of %s: %w", id, pid, core.ErrNotFound)
	}
	return rec, nil
}

func filterTransports(in []*TransportRecord, keep func(*TransportRecord) bool) []*TransportRecord {
	out := in[:0]
	for _, rec := range in {
		if keep(rec) {
			out = append(out, rec)
		}
	}
	return out
}

// ProducerRegistry holds all live producers, insertion ordered.
type ProducerRegistry struct {
	mu    sync.RWMutex
	peers *PeerRegistry
	items []*ProducerRecord
	byID  map[domain.ProducerID]*ProducerRecord
}

func NewProducerRegistry(peers *PeerRegistry) *ProducerRegistry {
	return &ProducerRegistry{peers: peers, byID: make(map[domain.ProducerID]*ProducerRecord)}
}

func (r *ProducerRegistry) Add(rec *ProducerRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.peers.AddProducerID(rec.PeerID, rec.ID) {
		return fmt.Errorf("producer owner %s: %w", rec.PeerID, core.ErrNotFound)
	}
	r.items = append(r.items, rec)
	r.byID[rec.ID] = rec
	return nil
}

func (r *ProducerRegistry) Get(id domain.ProducerID) (*ProducerRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("producer %s: %w", id, core.ErrNotFound)
	}
	return rec, nil
}

func (r *ProducerRegistry) Remove(id domain.ProducerID) (*ProducerRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	delete(r.byID, id)
	r.items = filterProducers(r.items, func(p *ProducerRecord) bool { return p.ID != id })
	r.peers.RemoveProducerID(rec.PeerID, rec.ID)
	return rec, true
}

func (r *ProducerRegistry) RemoveByPeer(pid domain.PeerID) []*ProducerRecord {
	r.mu.Lock()
	var removed []*ProducerRecord
	r.items = filterProducers(r.items, func(p *ProducerRecord) bool {
		if p.PeerID != pid {
			return true
		}
		removed = append(removed, p)
		delete(r.byID, p.ID)
		return false
	})
	r.mu.Unlock()
	for _, rec := range removed {
		rec.Handle.Close()
	}
	return removed
}

// FindByRoomExcluding lists other peers' producers in the room, in insertion
// order. Drives getProducers and fan-out.
func (r *ProducerRegistry) FindByRoomExcluding(room domain.RoomName, pid domain.PeerID) []*ProducerRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*ProducerRecord
	for _, rec := range r.items {
		if rec.RoomName == room && rec.PeerID != pid {
			out = append(out, rec)
		}
	}
	return out
}

func filterProducers(in []*ProducerRecord, keep func(*ProducerRecord) bool) []*ProducerRecord {
	out := in[:0]
	for _, rec := range in {
		if keep(rec) {
			out = append(out, rec)
		}
	}
	return out
}

// ConsumerRegistry holds all live consumers, insertion ordered.
type ConsumerRegistry struct {
	mu    sync.RWMutex
	peers *PeerRegistry
	items []*ConsumerRecord
	byID  map[domain.ConsumerID]*ConsumerRecord
}

func NewConsumerRegistry(peers *PeerRegistry) *ConsumerRegistry {
	return &ConsumerRegistry{peers: peers, byID: make(map[domain.ConsumerID]*ConsumerRecord)}
}

func (r *ConsumerRegistry) Add(rec *ConsumerRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.peers.AddConsumerID(rec.PeerID, rec.ID) {
		return fmt.Errorf("consumer owner %s: %w", rec.PeerID, core.ErrNotFound)
	}
	r.items = append(r.items, rec)
	r.byID[rec.ID] = rec
	return nil
}

func (r *ConsumerRegistry) Get(id domain.ConsumerID) (*ConsumerRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("consumer %s: %w", id, core.ErrNotFound)
	}
	return rec, nil
}

func (r *ConsumerRegistry) RemoveByPeer(pid domain.PeerID) []*ConsumerRecord {
	r.mu.Lock()
	var removed []*ConsumerRecord
	r.items = filterConsumers(r.items, func(c *ConsumerRecord) bool {
		if c.PeerID != pid {
			return true
		}
		removed = append(removed, c)
		delete(r.byID, c.ID)
		return false
	})
	r.mu.Unlock()
	for _, rec := range removed {
		rec.Handle.Close()
	}
	return removed
}

// RemoveByProducer closes and removes every consumer bound to the producer,
// across all peers. Cross-peer references must be resolved here, not through
// the disconnecting peer's own set.
func (r *ConsumerRegistry) RemoveByProducer(id domain.ProducerID) []*ConsumerRecord {
	r.mu.Lock()
	var removed []*ConsumerRecord
	r.items = filterConsumers(r.items, func(c *ConsumerRecord) bool {
		if c.ProducerID != id {
			return true
		}
		removed = append(removed, c)
		delete(r.byID, c.ID)
		return false
	})
	for _, rec := range removed {
		r.peers.RemoveConsumerID(rec.PeerID, rec.ID)
	}
	r.mu.Unlock()
	for _, rec := range removed {
		rec.Handle.Close()
	}
	return removed
}

// RemoveByTransport closes and removes every consumer riding the transport.
// Called when a receive transport dies on the engine side.
func (r *ConsumerRegistry) RemoveByTransport(id domain.TransportID) []*ConsumerRecord {
	r.mu.Lock()
	var removed []*ConsumerRecord
	r.items = filterConsumers(r.items, func(c *ConsumerRecord) bool {
		if c.TransportID != id {
			return true
		}
		removed = append(removed, c)
		delete(r.byID, c.ID)
		return false
	})
	for _, rec := range removed {
		r.peers.RemoveConsumerID(rec.PeerID, rec.ID)
	}
	r.mu.Unlock()
	for _, rec := range removed {
		rec.Handle.Close()
	}
	return removed
}

func filterConsumers(in []*ConsumerRecord, keep func(*ConsumerRecord) bool) []*ConsumerRecord {
	out := in[:0]
	for _, rec := range in {
		if keep(rec) {
			out = append(out, rec)
		}
	}
	return out
}
