package orch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/ametov/parley/internal/core"
	"github.com/ametov/parley/internal/domain"
)

// Join attaches the peer to a room and returns the routing capabilities the
// client needs for device loading. The room attach claims the peer's join
// slot first, so a duplicate joinRoom on the same connection fails with
// InvalidState instead of racing.
func (o *Orchestrator) Join(ctx context.Context, pid domain.PeerID, room domain.RoomName, displayName string) (json.RawMessage, error) {
	if room == "" {
		return nil, fmt.Errorf("empty room name: %w", core.ErrInvalidState)
	}
	if err := o.Peers.AttachRoom(pid, room, displayName); err != nil {
		return nil, err
	}

	callCtx, cancel := o.callCtx(ctx)
	router, err := o.Rooms.GetOrCreate(callCtx, room, pid)
	cancel()
	if err != nil {
		o.Peers.DetachRoom(pid)
		return nil, fmt.Errorf("%w: %v", core.ErrEngineFailure, err)
	}

	log.Info().Str("module", "orch").Str("peer", string(pid)).Str("room", string(room)).Msg("peer joined room")
	return router.RTPCapabilities(), nil
}

// ListProducers returns the ids of other peers' producers in the caller's
// room, in insertion order.
func (o *Orchestrator) ListProducers(pid domain.PeerID) ([]domain.ProducerID, error) {
	room, err := o.requireRoom(pid)
	if err != nil {
		return nil, err
	}
	recs := o.Producers.FindByRoomExcluding(room, pid)
	out := make([]domain.ProducerID, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.ID)
	}
	return out, nil
}

// requireRoom is the cross-cutting precondition of every resource message:
// the connection must have a peer record with an attached room.
func (o *Orchestrator) requireRoom(pid domain.PeerID) (domain.RoomName, error) {
	if !o.Peers.Exists(pid) {
		return "", fmt.Errorf("unknown connection %s: %w", pid, core.ErrInvalidState)
	}
	room, ok := o.Peers.Room(pid)
	if !ok {
		return "", fmt.Errorf("peer %s has not joined a room: %w", pid, core.ErrInvalidState)
	}
	return room, nil
}
