package app

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ametov/parley/internal/core"
	"github.com/ametov/parley/internal/core/coretest"
	"github.com/ametov/parley/internal/domain"
)

func TestRoomJoinIsIdempotent(t *testing.T) {
	rooms := NewRoomRegistry(coretest.NewEngine(), false)
	ctx := context.Background()

	router1, err := rooms.GetOrCreate(ctx, "room1", "peer-a")
	require.NoError(t, err)
	router2, err := rooms.GetOrCreate(ctx, "room1", "peer-a")
	require.NoError(t, err)

	assert.Same(t, router1, router2, "re-join must reuse the routing context")
	assert.Equal(t, 1, rooms.MemberCount("room1"))
	assert.Equal(t, []domain.PeerID{"peer-a"}, rooms.Members("room1"))
}

func TestRoomPersistsAfterLastMemberLeaves(t *testing.T) {
	rooms := NewRoomRegistry(coretest.NewEngine(), false)
	ctx := context.Background()

	_, err := rooms.GetOrCreate(ctx, "room1", "peer-a")
	require.NoError(t, err)

	rooms.RemoveMember("room1", "peer-a")
	assert.True(t, rooms.Exists("room1"))
	assert.Equal(t, 0, rooms.MemberCount("room1"))

	_, err = rooms.Router("room1")
	assert.NoError(t, err, "routing context survives an empty room")
}

func TestRemoveMemberOnMissingRoomIsNoop(t *testing.T) {
	rooms := NewRoomRegistry(coretest.NewEngine(), false)
	assert.NotPanics(t, func() {
		rooms.RemoveMember("no-such-room", "peer-a")
	})
}

func TestCloseEmptyRoomsPolicy(t *testing.T) {
	rooms := NewRoomRegistry(coretest.NewEngine(), true)
	ctx := context.Background()

	router, err := rooms.GetOrCreate(ctx, "room1", "peer-a")
	require.NoError(t, err)

	rooms.RemoveMember("room1", "peer-a")
	assert.False(t, rooms.Exists("room1"))
	assert.True(t, router.(*coretest.Router).Closed)
}

func TestRouterCreationFailureLeavesNoRoom(t *testing.T) {
	engine := coretest.NewEngine()
	engine.RouterErr = errors.New("worker gone")
	rooms := NewRoomRegistry(engine, false)

	_, err := rooms.GetOrCreate(context.Background(), "room1", "peer-a")
	require.Error(t, err)
	assert.False(t, rooms.Exists("room1"))

	_, err = rooms.Router("room1")
	assert.ErrorIs(t, err, core.ErrNotFound)
}
