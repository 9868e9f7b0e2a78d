package orch

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ametov/parley/internal/app"
	"github.com/ametov/parley/internal/core"
	"github.com/ametov/parley/internal/domain"
)

// Orchestrator sequences signaling events across the registries. All mutation
// of shared state goes through registry operations; the orchestrator owns the
// ordering, the registries own the locking.
type Orchestrator struct {
	Engine     core.MediaEngine
	Rooms      *app.RoomRegistry
	Peers      *app.PeerRegistry
	Transports *app.TransportRegistry
	Producers  *app.ProducerRegistry
	Consumers  *app.ConsumerRegistry
	Recordings *app.RecordingManager
	Notifier   core.Notifier

	// CallTimeout bounds every engine and recorder call.
	CallTimeout time.Duration
}

const defaultCallTimeout = 10 * time.Second

func (o *Orchestrator) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := o.CallTimeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

// OnConnect registers a fresh connection as an empty peer record.
func (o *Orchestrator) OnConnect(pid domain.PeerID, conn core.SignalConnection) {
	o.Peers.Create(pid, conn)
}

// OnDisconnect runs the cleanup cascade: own consumers, then own producers
// (resolving cross-peer consumers through the global registry), then own
// transports, then room membership, then the peer record itself.
func (o *Orchestrator) OnDisconnect(pid domain.PeerID) {
	room, joined := o.Peers.Room(pid)

	o.Consumers.RemoveByPeer(pid)

	for _, prod := range o.Producers.RemoveByPeer(pid) {
		o.onProducerGone(prod)
	}

	for _, tr := range o.Transports.RemoveByPeer(pid) {
		if !tr.IsConsumer {
			o.Peers.ReleaseSendTransport(pid)
		}
	}

	if joined {
		o.Rooms.RemoveMember(room, pid)
	}
	o.Peers.Destroy(pid)
	log.Info().Str("module", "orch").Str("peer", string(pid)).Msg("disconnect cleanup done")
}

// onProducerGone handles the registry-side fallout of a producer that is
// already removed from the producer registry: stop recordings that reference
// it, tear down consumers on other peers, and notify their owners.
func (o *Orchestrator) onProducerGone(prod *app.ProducerRecord) {
	ctx, cancel := o.callCtx(context.Background())
	o.Recordings.StopByProducer(ctx, prod.ID)
	cancel()

	for _, cons := range o.Consumers.RemoveByProducer(prod.ID) {
		if o.Notifier != nil {
			o.Notifier.ProducerClosed(cons.PeerID, prod.ID)
		}
	}
}
