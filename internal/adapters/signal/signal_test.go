package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ametov/parley/internal/app"
	"github.com/ametov/parley/internal/app/orch"
	"github.com/ametov/parley/internal/core"
	"github.com/ametov/parley/internal/core/coretest"
	"github.com/ametov/parley/internal/domain"
)

func newTestController(t *testing.T) (*Controller, *WsSignalConn, domain.PeerID) {
	t.Helper()
	engine := coretest.NewEngine()
	peers := app.NewPeerRegistry()
	producers := app.NewProducerRegistry(peers)
	o := &orch.Orchestrator{
		Engine:     engine,
		Rooms:      app.NewRoomRegistry(engine, false),
		Peers:      peers,
		Transports: app.NewTransportRegistry(peers),
		Producers:  producers,
		Consumers:  app.NewConsumerRegistry(peers),
		Recordings: app.NewRecordingManager(&coretest.Recorder{}, producers),
	}
	ctl := NewController(o, 0, 0, nil)
	o.Notifier = ctl

	conn := &WsSignalConn{send: make(chan core.Frame, 16)}
	pid := domain.PeerID("conn-1")
	o.OnConnect(pid, conn)
	return ctl, conn, pid
}

func dispatch(t *testing.T, ctl *Controller, pid domain.PeerID, conn *WsSignalConn, typ string, id uint64, data any) {
	t.Helper()
	env := Envelope{Type: typ, ID: id}
	if data != nil {
		b, err := json.Marshal(data)
		require.NoError(t, err)
		env.Data = b
	}
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	ctl.handleSignal(context.Background(), pid, conn, raw)
}

func recvFrame(t *testing.T, conn *WsSignalConn) Envelope {
	t.Helper()
	select {
	case f := <-conn.send:
		var env Envelope
		require.NoError(t, json.Unmarshal(f, &env))
		return env
	default:
		t.Fatal("no frame queued")
		return Envelope{}
	}
}

func assertNoFrame(t *testing.T, conn *WsSignalConn) {
	t.Helper()
	select {
	case f := <-conn.send:
		t.Fatalf("unexpected frame: %s", f)
	default:
	}
}

func TestJoinRoomRoundTrip(t *testing.T) {
	ctl, conn, pid := newTestController(t)

	dispatch(t, ctl, pid, conn, "joinRoom", 1, joinRoomRequest{RoomName: "room1", UserName: "alice"})

	resp := recvFrame(t, conn)
	assert.Equal(t, "joinRoom", resp.Type)
	assert.Equal(t, uint64(1), resp.ID)
	var body joinRoomResponse
	require.NoError(t, json.Unmarshal(resp.Data, &body))
	assert.NotEmpty(t, body.RoutingCapabilities)

	dispatch(t, ctl, pid, conn, "getProducers", 2, nil)
	resp = recvFrame(t, conn)
	assert.Equal(t, uint64(2), resp.ID)
	assert.JSONEq(t, `[]`, string(resp.Data))
}

func TestRequestBeforeJoinIsRejected(t *testing.T) {
	ctl, conn, pid := newTestController(t)

	dispatch(t, ctl, pid, conn, "createWebRtcTransport", 3, createTransportRequest{})

	resp := recvFrame(t, conn)
	assert.Equal(t, "createWebRtcTransport", resp.Type)
	var body errorPayload
	require.NoError(t, json.Unmarshal(resp.Data, &body))
	assert.Equal(t, "invalid state", body.Error)
}

func TestFireAndForgetFailureSendsNothing(t *testing.T) {
	ctl, conn, pid := newTestController(t)
	dispatch(t, ctl, pid, conn, "joinRoom", 1, joinRoomRequest{RoomName: "room1", UserName: "alice"})
	recvFrame(t, conn)

	// No send transport exists yet; the failure stays in the logs.
	dispatch(t, ctl, pid, conn, "transport-connect", 0, transportConnectRequest{DTLSParameters: json.RawMessage(`{}`)})
	assertNoFrame(t, conn)
}

func TestConsumeErrorRidesParamsShape(t *testing.T) {
	ctl, conn, pid := newTestController(t)
	dispatch(t, ctl, pid, conn, "joinRoom", 1, joinRoomRequest{RoomName: "room1", UserName: "alice"})
	recvFrame(t, conn)

	dispatch(t, ctl, pid, conn, "consume", 4, consumeRequest{
		RTPCapabilities:           json.RawMessage(`{}`),
		RemoteProducerID:          "no-such",
		ServerConsumerTransportID: "stale",
	})

	resp := recvFrame(t, conn)
	assert.JSONEq(t, `{"params":{"error":"not found"}}`, string(resp.Data))
}

func TestPushCarriesNoID(t *testing.T) {
	ctl, conn, pid := newTestController(t)

	ctl.NewProducer(pid, "prod-1")

	select {
	case f := <-conn.send:
		assert.NotContains(t, string(f), `"id"`)
		var env Envelope
		require.NoError(t, json.Unmarshal(f, &env))
		assert.Equal(t, "new-producer", env.Type)
	default:
		t.Fatal("no push queued")
	}
}

func TestMalformedAndUnknownMessagesAreIgnored(t *testing.T) {
	ctl, conn, pid := newTestController(t)

	ctl.handleSignal(context.Background(), pid, conn, []byte("{not json"))
	assertNoFrame(t, conn)

	dispatch(t, ctl, pid, conn, "no-such-type", 0, nil)
	assertNoFrame(t, conn)
}

func TestErrorTextMapping(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{core.ErrNotFound, "not found"},
		{core.ErrInvalidState, "invalid state"},
		{core.ErrInvalidKind, "invalid kind"},
		{core.ErrCannotConsume, "cannot consume"},
		{core.ErrRecorderFailure, "recorder failure"},
		{core.ErrEngineFailure, "engine failure"},
		{fmt.Errorf("plain"), "internal error"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, errorText(fmt.Errorf("wrapped: %w", tc.err)))
	}

	assert.Equal(t, "Producer not found", startRecordingErrorText(core.ErrNotFound))
	assert.Equal(t, "Invalid producer kinds: need one audio and one video producer", startRecordingErrorText(core.ErrInvalidKind))
	assert.Equal(t, "Recording not found", recordingErrorText(core.ErrNotFound))
	assert.Equal(t, "recorder failure", recordingErrorText(core.ErrRecorderFailure))
}
