package signal

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterSlidingWindow(t *testing.T) {
	rl := NewPeerRateLimiter(2, time.Minute)

	assert.True(t, rl.Allow("peer-a"))
	assert.True(t, rl.Allow("peer-a"))
	assert.False(t, rl.Allow("peer-a"))

	// Other peers have their own window.
	assert.True(t, rl.Allow("peer-b"))

	rl.Forget("peer-a")
	assert.True(t, rl.Allow("peer-a"))
}

func TestRateLimiterDisabledByZeroLimit(t *testing.T) {
	rl := NewPeerRateLimiter(0, time.Minute)
	for i := 0; i < 100; i++ {
		assert.True(t, rl.Allow("peer-a"))
	}
}

func TestRateLimitedRequestRejected(t *testing.T) {
	ctl, conn, pid := newTestController(t)
	ctl.Limiter = NewPeerRateLimiter(1, time.Minute)

	dispatch(t, ctl, pid, conn, "joinRoom", 1, joinRoomRequest{RoomName: "room1", UserName: "alice"})
	recvFrame(t, conn)

	dispatch(t, ctl, pid, conn, "createWebRtcTransport", 2, createTransportRequest{})
	resp := recvFrame(t, conn)
	var body errorPayload
	require.NoError(t, json.Unmarshal(resp.Data, &body))
	assert.Equal(t, "too many requests", body.Error)

	// Reads stay unlimited.
	dispatch(t, ctl, pid, conn, "getProducers", 3, nil)
	resp = recvFrame(t, conn)
	assert.JSONEq(t, `[]`, string(resp.Data))
}
