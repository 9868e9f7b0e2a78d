package orch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/ametov/parley/internal/app"
	"github.com/ametov/parley/internal/core"
	"github.com/ametov/parley/internal/domain"
)

// CreateTransport builds a transport on the room's router. The send slot is
// claimed before the engine call so two racing createWebRtcTransport requests
// cannot both become "the" send transport.
func (o *Orchestrator) CreateTransport(ctx context.Context, pid domain.PeerID, isConsumer bool) (core.TransportOptions, error) {
	var zero core.TransportOptions

	room, err := o.requireRoom(pid)
	if err != nil {
		return zero, err
	}
	router, err := o.Rooms.Router(room)
	if err != nil {
		return zero, err
	}

	if !isConsumer {
		if err := o.Peers.ClaimSendTransport(pid); err != nil {
			return zero, err
		}
	}
	releaseClaim := func() {
		if !isConsumer {
			o.Peers.ReleaseSendTransport(pid)
		}
	}

	callCtx, cancel := o.callCtx(ctx)
	transport, err := router.CreateTransport(callCtx)
	cancel()
	if err != nil {
		releaseClaim()
		return zero, fmt.Errorf("%w: %v", core.ErrEngineFailure, err)
	}

	rec := &app.TransportRecord{
		Transport: domain.Transport{
			ID:         transport.ID(),
			PeerID:     pid,
			RoomName:   room,
			IsConsumer: isConsumer,
		},
		Handle: transport,
	}
	// The peer may have disconnected while the engine call was in flight.
	if err := o.Transports.Add(rec); err != nil {
		transport.Close()
		releaseClaim()
		return zero, err
	}

	transport.OnClose(func() { o.onTransportClosed(rec) })
	log.Info().Str("module", "orch").Str("peer", string(pid)).Str("transport", string(transport.ID())).Bool("consumer", isConsumer).Msg("transport created")
	return transport.Options(), nil
}

// ConnectSendTransport finishes DTLS setup of the caller's send transport.
func (o *Orchestrator) ConnectSendTransport(ctx context.Context, pid domain.PeerID, dtlsParameters json.RawMessage) error {
	if _, err := o.requireRoom(pid); err != nil {
		return err
	}
	rec, err := o.Transports.FindSendTransport(pid)
	if err != nil {
		return err
	}
	callCtx, cancel := o.callCtx(ctx)
	defer cancel()
	if err := rec.Handle.Connect(callCtx, dtlsParameters); err != nil {
		return fmt.Errorf("%w: %v", core.ErrEngineFailure, err)
	}
	return nil
}

// ConnectRecvTransport finishes DTLS setup of one of the caller's consumer
// transports, addressed by id.
func (o *Orchestrator) ConnectRecvTransport(ctx context.Context, pid domain.PeerID, id domain.TransportID, dtlsParameters json.RawMessage) error {
	if _, err := o.requireRoom(pid); err != nil {
		return err
	}
	rec, err := o.Transports.FindConsumerTransport(pid, id)
	if err != nil {
		return err
	}
	callCtx, cancel := o.callCtx(ctx)
	defer cancel()
	if err := rec.Handle.Connect(callCtx, dtlsParameters); err != nil {
		return fmt.Errorf("%w: %v", core.ErrEngineFailure, err)
	}
	return nil
}

// Produce publishes a stream over the caller's send transport, registers the
// producer and fans the announcement out to the rest of the room. Returns the
// producer id and whether other producers already exist in the room.
func (o *Orchestrator) Produce(ctx context.Context, pid domain.PeerID, kind domain.MediaKind, rtpParameters json.RawMessage) (domain.ProducerID, bool, error) {
	room, err := o.requireRoom(pid)
	if err != nil {
		return "", false, err
	}
	if !kind.Valid() {
		return "", false, fmt.Errorf("media kind %q: %w", kind, core.ErrInvalidKind)
	}
	transport, err := o.Transports.FindSendTransport(pid)
	if err != nil {
		return "", false, err
	}

	callCtx, cancel := o.callCtx(ctx)
	producer, err := transport.Handle.Produce(callCtx, kind, rtpParameters)
	cancel()
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", core.ErrEngineFailure, err)
	}

	rec := &app.ProducerRecord{
		Producer: domain.Producer{
			ID:       producer.ID(),
			PeerID:   pid,
			RoomName: room,
			Kind:     kind,
		},
		Handle: producer,
	}
	if err := o.Producers.Add(rec); err != nil {
		producer.Close()
		return "", false, err
	}

	producer.OnClose(func() { o.HandleProducerClosed(producer.ID()) })

	others := o.Producers.FindByRoomExcluding(room, pid)
	o.fanOutNewProducer(room, pid, producer.ID())

	log.Info().Str("module", "orch").Str("peer", string(pid)).Str("producer", string(producer.ID())).Str("kind", string(kind)).Msg("producer created")
	return producer.ID(), len(others) > 0, nil
}

// fanOutNewProducer announces the producer to every other member of the room.
// Best effort: a peer that disconnects mid fan-out simply never hears of it.
func (o *Orchestrator) fanOutNewProducer(room domain.RoomName, from domain.PeerID, id domain.ProducerID) {
	if o.Notifier == nil {
		return
	}
	for _, member := range o.Rooms.Members(room) {
		if member == from {
			continue
		}
		o.Notifier.NewProducer(member, id)
	}
}

// Consume binds the caller to a remote producer over the named consumer
// transport. A capability mismatch is refused without touching the producer
// side; the caller gets ErrCannotConsume, nothing is created.
func (o *Orchestrator) Consume(ctx context.Context, pid domain.PeerID, remoteProducer domain.ProducerID, transportID domain.TransportID, rtpCapabilities json.RawMessage) (core.ConsumerParams, error) {
	var zero core.ConsumerParams

	room, err := o.requireRoom(pid)
	if err != nil {
		return zero, err
	}
	transport, err := o.Transports.FindConsumerTransport(pid, transportID)
	if err != nil {
		return zero, err
	}
	producer, err := o.Producers.Get(remoteProducer)
	if err != nil {
		return zero, err
	}
	router, err := o.Rooms.Router(room)
	if err != nil {
		return zero, err
	}

	if !router.CanConsume(producer.Handle, rtpCapabilities) {
		return zero, fmt.Errorf("producer %s with given capabilities: %w", remoteProducer, core.ErrCannotConsume)
	}

	callCtx, cancel := o.callCtx(ctx)
	consumer, err := transport.Handle.Consume(callCtx, producer.Handle, rtpCapabilities)
	cancel()
	if err != nil {
		return zero, fmt.Errorf("%w: %v", core.ErrEngineFailure, err)
	}

	rec := &app.ConsumerRecord{
		Consumer: domain.Consumer{
			ID:          consumer.ID(),
			PeerID:      pid,
			RoomName:    room,
			ProducerID:  remoteProducer,
			TransportID: transportID,
		},
		Handle: consumer,
	}
	if err := o.Consumers.Add(rec); err != nil {
		consumer.Close()
		return zero, err
	}

	log.Info().Str("module", "orch").Str("peer", string(pid)).Str("consumer", string(consumer.ID())).Str("producer", string(remoteProducer)).Msg("consumer created")
	return consumer.Params(), nil
}

// ResumeConsumer starts delivery on a consumer created paused.
func (o *Orchestrator) ResumeConsumer(ctx context.Context, pid domain.PeerID, id domain.ConsumerID) error {
	if _, err := o.requireRoom(pid); err != nil {
		return err
	}
	rec, err := o.Consumers.Get(id)
	if err != nil {
		return err
	}
	if rec.PeerID != pid {
		return fmt.Errorf("consumer %s: %w", id, core.ErrNotFound)
	}
	callCtx, cancel := o.callCtx(ctx)
	defer cancel()
	if err := rec.Handle.Resume(callCtx); err != nil {
		return fmt.Errorf("%w: %v", core.ErrEngineFailure, err)
	}
	return nil
}

// HandleProducerClosed reacts to a producer ending on the engine side:
// remove the record, stop recordings, tear down dependent consumers and
// notify their owners.
func (o *Orchestrator) HandleProducerClosed(id domain.ProducerID) {
	rec, ok := o.Producers.Remove(id)
	if !ok {
		return
	}
	rec.Handle.Close()
	o.onProducerGone(rec)
	log.Info().Str("module", "orch").Str("producer", string(id)).Msg("producer closed")
}

// onTransportClosed reacts to a transport ending on the engine side. Producers
// and consumers riding it die with it.
func (o *Orchestrator) onTransportClosed(tr *app.TransportRecord) {
	if _, ok := o.Transports.Remove(tr.ID); !ok {
		return
	}
	if tr.IsConsumer {
		o.Consumers.RemoveByTransport(tr.ID)
	} else {
		o.Peers.ReleaseSendTransport(tr.PeerID)
		// Every producer rides the peer's singleton send transport.
		for _, prod := range o.Producers.RemoveByPeer(tr.PeerID) {
			o.onProducerGone(prod)
		}
	}
	log.Info().Str("module", "orch").Str("transport", string(tr.ID)).Str("peer", string(tr.PeerID)).Msg("transport closed")
}
