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

func newRecordingFixture(t *testing.T) (*RecordingManager, *coretest.Recorder) {
	t.Helper()
	peers := newJoinedPeers(t, "peer-a")
	producers := NewProducerRegistry(peers)

	require.NoError(t, producers.Add(&ProducerRecord{
		Producer: domain.Producer{ID: "audio-1", PeerID: "peer-a", RoomName: "room1", Kind: domain.MediaKindAudio},
		Handle:   coretest.NewProducer("audio-1", domain.MediaKindAudio),
	}))
	require.NoError(t, producers.Add(&ProducerRecord{
		Producer: domain.Producer{ID: "video-1", PeerID: "peer-a", RoomName: "room1", Kind: domain.MediaKindVideo},
		Handle:   coretest.NewProducer("video-1", domain.MediaKindVideo),
	}))

	recorder := &coretest.Recorder{}
	return NewRecordingManager(recorder, producers), recorder
}

func TestStartRecordingWithSwappedKinds(t *testing.T) {
	mgr, recorder := newRecordingFixture(t)

	_, err := mgr.Start(context.Background(), "video-1", "audio-1", "room1", "peer-a")
	assert.ErrorIs(t, err, core.ErrInvalidKind)
	assert.Empty(t, recorder.Started)
	assert.Zero(t, mgr.ActiveCount())
}

func TestStartRecordingWithMissingProducer(t *testing.T) {
	mgr, recorder := newRecordingFixture(t)

	_, err := mgr.Start(context.Background(), "audio-1", "no-such", "room1", "peer-a")
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.Empty(t, recorder.Started)
}

func TestRecordingStartStopStopAgain(t *testing.T) {
	mgr, _ := newRecordingFixture(t)
	ctx := context.Background()

	fileName, err := mgr.Start(ctx, "audio-1", "video-1", "room1", "peer-a")
	require.NoError(t, err)
	assert.NotEmpty(t, fileName)
	assert.Equal(t, 1, mgr.ActiveCount())

	filePath, err := mgr.Stop(ctx, "audio-1", "video-1")
	require.NoError(t, err)
	assert.NotEmpty(t, filePath)
	assert.Zero(t, mgr.ActiveCount())

	_, err = mgr.Stop(ctx, "audio-1", "video-1")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestDuplicateRecordingStartRejected(t *testing.T) {
	mgr, recorder := newRecordingFixture(t)
	ctx := context.Background()

	_, err := mgr.Start(ctx, "audio-1", "video-1", "room1", "peer-a")
	require.NoError(t, err)

	_, err = mgr.Start(ctx, "audio-1", "video-1", "room1", "peer-a")
	assert.ErrorIs(t, err, core.ErrInvalidState)
	assert.Len(t, recorder.Started, 1)
}

func TestStartUnwindsWhenProducerClosesMidFlight(t *testing.T) {
	peers := newJoinedPeers(t, "peer-a")
	producers := NewProducerRegistry(peers)
	require.NoError(t, producers.Add(&ProducerRecord{
		Producer: domain.Producer{ID: "audio-1", PeerID: "peer-a", RoomName: "room1", Kind: domain.MediaKindAudio},
		Handle:   coretest.NewProducer("audio-1", domain.MediaKindAudio),
	}))
	require.NoError(t, producers.Add(&ProducerRecord{
		Producer: domain.Producer{ID: "video-1", PeerID: "peer-a", RoomName: "room1", Kind: domain.MediaKindVideo},
		Handle:   coretest.NewProducer("video-1", domain.MediaKindVideo),
	}))

	recorder := &coretest.Recorder{}
	mgr := NewRecordingManager(recorder, producers)

	// The video producer goes away while the recorder call is in flight; its
	// auto-stop only sees the reserved placeholder.
	recorder.StartHook = func() {
		producers.Remove("video-1")
		mgr.StopByProducer(context.Background(), "video-1")
	}

	_, err := mgr.Start(context.Background(), "audio-1", "video-1", "room1", "peer-a")
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.Zero(t, mgr.ActiveCount())
	require.Len(t, recorder.Started, 1)
	require.Len(t, recorder.Stopped, 1, "the in-flight job must be unwound")
}

func TestStopByProducerTearsDownSession(t *testing.T) {
	mgr, recorder := newRecordingFixture(t)
	ctx := context.Background()

	_, err := mgr.Start(ctx, "audio-1", "video-1", "room1", "peer-a")
	require.NoError(t, err)

	mgr.StopByProducer(ctx, "video-1")
	assert.Zero(t, mgr.ActiveCount())
	require.Len(t, recorder.Stopped, 1)
	assert.Equal(t, [2]domain.ProducerID{"audio-1", "video-1"}, recorder.Stopped[0])
}
