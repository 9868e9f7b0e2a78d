package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ametov/parley/internal/core"
	"github.com/ametov/parley/internal/core/coretest"
	"github.com/ametov/parley/internal/domain"
)

func newJoinedPeers(t *testing.T, ids ...domain.PeerID) *PeerRegistry {
	t.Helper()
	peers := NewPeerRegistry()
	for _, id := range ids {
		peers.Create(id, &coretest.Conn{})
		require.NoError(t, peers.AttachRoom(id, "room1", "user"))
	}
	return peers
}

func newFakeTransport(t *testing.T) *coretest.Transport {
	t.Helper()
	router, err := coretest.NewEngine().CreateRouter(context.Background())
	require.NoError(t, err)
	tr, err := router.CreateTransport(context.Background())
	require.NoError(t, err)
	return tr.(*coretest.Transport)
}

func TestFindSendTransport(t *testing.T) {
	peers := newJoinedPeers(t, "peer-a")
	transports := NewTransportRegistry(peers)

	recv := newFakeTransport(t)
	require.NoError(t, transports.Add(&TransportRecord{
		Transport: domain.Transport{ID: recv.ID(), PeerID: "peer-a", RoomName: "room1", IsConsumer: true},
		Handle:    recv,
	}))

	_, err := transports.FindSendTransport("peer-a")
	assert.ErrorIs(t, err, core.ErrNotFound, "consumer transports must not match")

	send := newFakeTransport(t)
	require.NoError(t, transports.Add(&TransportRecord{
		Transport: domain.Transport{ID: send.ID(), PeerID: "peer-a", RoomName: "room1"},
		Handle:    send,
	}))

	rec, err := transports.FindSendTransport("peer-a")
	require.NoError(t, err)
	assert.Equal(t, send.ID(), rec.ID)
}

func TestFindConsumerTransportRejectsStaleID(t *testing.T) {
	peers := newJoinedPeers(t, "peer-a", "peer-b")
	transports := NewTransportRegistry(peers)

	tr := newFakeTransport(t)
	require.NoError(t, transports.Add(&TransportRecord{
		Transport: domain.Transport{ID: tr.ID(), PeerID: "peer-a", RoomName: "room1", IsConsumer: true},
		Handle:    tr,
	}))

	_, err := transports.FindConsumerTransport("peer-a", "no-such-id")
	assert.ErrorIs(t, err, core.ErrNotFound)

	// Another peer must not reach someone else's transport by id.
	_, err = transports.FindConsumerTransport("peer-b", tr.ID())
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestRemoveByPeerClosesHandles(t *testing.T) {
	peers := newJoinedPeers(t, "peer-a", "peer-b")
	transports := NewTransportRegistry(peers)

	mine := newFakeTransport(t)
	theirs := newFakeTransport(t)
	require.NoError(t, transports.Add(&TransportRecord{
		Transport: domain.Transport{ID: mine.ID(), PeerID: "peer-a", RoomName: "room1"},
		Handle:    mine,
	}))
	require.NoError(t, transports.Add(&TransportRecord{
		Transport: domain.Transport{ID: theirs.ID(), PeerID: "peer-b", RoomName: "room1"},
		Handle:    theirs,
	}))

	removed := transports.RemoveByPeer("peer-a")
	require.Len(t, removed, 1)
	assert.True(t, mine.Closed)
	assert.False(t, theirs.Closed)

	assert.Empty(t, transports.RemoveByPeer("peer-a"), "second sweep finds nothing")
}

func TestFindByRoomExcludingKeepsInsertionOrder(t *testing.T) {
	peers := newJoinedPeers(t, "peer-a", "peer-b", "peer-c")
	producers := NewProducerRegistry(peers)

	add := func(id domain.ProducerID, owner domain.PeerID, kind domain.MediaKind) {
		require.NoError(t, producers.Add(&ProducerRecord{
			Producer: domain.Producer{ID: id, PeerID: owner, RoomName: "room1", Kind: kind},
			Handle:   &coretest.Producer{},
		}))
	}
	add("p1", "peer-a", domain.MediaKindAudio)
	add("p2", "peer-b", domain.MediaKindVideo)
	add("p3", "peer-a", domain.MediaKindVideo)

	recs := producers.FindByRoomExcluding("room1", "peer-c")
	require.Len(t, recs, 3)
	assert.Equal(t, domain.ProducerID("p1"), recs[0].ID)
	assert.Equal(t, domain.ProducerID("p2"), recs[1].ID)
	assert.Equal(t, domain.ProducerID("p3"), recs[2].ID)

	recs = producers.FindByRoomExcluding("room1", "peer-a")
	require.Len(t, recs, 1)
	assert.Equal(t, domain.ProducerID("p2"), recs[0].ID)
}

func TestRemoveByTransportScopedToTransport(t *testing.T) {
	peers := newJoinedPeers(t, "peer-b")
	consumers := NewConsumerRegistry(peers)

	mine := &coretest.Consumer{}
	require.NoError(t, consumers.Add(&ConsumerRecord{
		Consumer: domain.Consumer{ID: "c1", PeerID: "peer-b", RoomName: "room1", ProducerID: "p1", TransportID: "t1"},
		Handle:   mine,
	}))
	require.NoError(t, consumers.Add(&ConsumerRecord{
		Consumer: domain.Consumer{ID: "c2", PeerID: "peer-b", RoomName: "room1", ProducerID: "p2", TransportID: "t2"},
		Handle:   &coretest.Consumer{},
	}))

	removed := consumers.RemoveByTransport("t1")
	require.Len(t, removed, 1)
	assert.Equal(t, domain.ConsumerID("c1"), removed[0].ID)
	assert.True(t, mine.Closed)

	_, err := consumers.Get("c1")
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = consumers.Get("c2")
	assert.NoError(t, err)
}

func TestRemoveByProducerResolvesCrossPeerConsumers(t *testing.T) {
	peers := newJoinedPeers(t, "peer-a", "peer-b")
	consumers := NewConsumerRegistry(peers)

	require.NoError(t, consumers.Add(&ConsumerRecord{
		Consumer: domain.Consumer{ID: "c1", PeerID: "peer-b", RoomName: "room1", ProducerID: "p1"},
		Handle:   &coretest.Consumer{},
	}))
	require.NoError(t, consumers.Add(&ConsumerRecord{
		Consumer: domain.Consumer{ID: "c2", PeerID: "peer-b", RoomName: "room1", ProducerID: "p2"},
		Handle:   &coretest.Consumer{},
	}))

	removed := consumers.RemoveByProducer("p1")
	require.Len(t, removed, 1)
	assert.Equal(t, domain.ConsumerID("c1"), removed[0].ID)

	_, err := consumers.Get("c1")
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = consumers.Get("c2")
	assert.NoError(t, err)
}
