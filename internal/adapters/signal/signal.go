package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/ametov/parley/internal/app/orch"
	"github.com/ametov/parley/internal/core"
	"github.com/ametov/parley/internal/domain"
)

var ErrBackpressure = errors.New("backpressure")

// Controller owns the websocket side of the signaling protocol: one
// connection per peer, a read pump dispatching requests into the
// orchestrator and a write pump draining the send queue.
type Controller struct {
	Orch       *orch.Orchestrator
	ReadLimit  int64
	PingPeriod time.Duration
	// Limiter bounds resource-creating requests per peer; nil allows all.
	Limiter *PeerRateLimiter
}

func NewController(o *orch.Orchestrator, readLimit int64, pingPeriod time.Duration, limiter *PeerRateLimiter) *Controller {
	return &Controller{Orch: o, ReadLimit: readLimit, PingPeriod: pingPeriod, Limiter: limiter}
}

type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request, issues the connection id and starts the
// pumps. The peer record exists from here until the read pump exits.
func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	pid := domain.PeerID(uuid.NewString())
	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, 32),
	}
	log.Info().Str("module", "signal").Str("peer", string(pid)).Msg("new WS connection")

	ctl.Orch.OnConnect(pid, conn)

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, pid, conn)
	go ctl.readPump(ctx, cancel, pid, conn)

	ctl.push(pid, "connection-success", connectionSuccessPush{ConnectionID: pid})
}

// NewProducer implements core.Notifier: fire-and-forget fan-out of a fresh
// producer to one room mate.
func (ctl *Controller) NewProducer(peer domain.PeerID, producer domain.ProducerID) {
	ctl.push(peer, "new-producer", newProducerPush{ProducerID: producer})
}

// ProducerClosed implements core.Notifier.
func (ctl *Controller) ProducerClosed(peer domain.PeerID, producer domain.ProducerID) {
	ctl.push(peer, "producer-closed", producerClosedPush{RemoteProducerID: producer})
}

func (ctl *Controller) push(pid domain.PeerID, typ string, data any) {
	conn, ok := ctl.Orch.Peers.Conn(pid)
	if !ok {
		return
	}
	ctl.sendEnvelope(conn, Envelope{Type: typ}, data)
}
