package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/ametov/parley/internal/core"
	"github.com/ametov/parley/internal/domain"
)

const writeWait = 5 * time.Second

func (ctl *Controller) pingPeriod() time.Duration {
	if ctl.PingPeriod > 0 {
		return ctl.PingPeriod
	}
	return 54 * time.Second
}

func (ctl *Controller) writePump(ctx context.Context, pid domain.PeerID, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.pingPeriod())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("peer", string(pid)).Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Warn().Str("module", "signal").Str("peer", string(pid)).Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, cancel context.CancelFunc, pid domain.PeerID, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("peer", string(pid)).Msg("readPump closing")
		cancel()
		ctl.Orch.OnDisconnect(pid)
		if ctl.Limiter != nil {
			ctl.Limiter.Forget(pid)
		}
		c.Close()
	}()

	if ctl.ReadLimit > 0 {
		c.conn.SetReadLimit(ctl.ReadLimit)
	}
	readWait := ctl.pingPeriod() * 10 / 9
	_ = c.conn.SetReadDeadline(time.Now().Add(readWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(readWait))
	})

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("peer", string(pid)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Info().Err(err).Str("module", "signal").Str("peer", string(pid)).Msg("readPump read error")
				return
			}
			ctl.handleSignal(ctx, pid, c, data)
		}
	}
}

// handleSignal is the single fault boundary for all inbound messages. A
// request (id set) always gets a response envelope; a failing fire-and-forget
// message is logged and never blocks the pump.
func (ctl *Controller) handleSignal(ctx context.Context, pid domain.PeerID, c *WsSignalConn, data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		return
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("module", "signal").Str("type", env.Type).Any("panic", r).Msg("handler panic")
			if env.ID != 0 {
				ctl.respond(c, env, errorPayload{Error: "internal error"})
			}
		}
	}()

	if createsResources(env.Type) && ctl.Limiter != nil && !ctl.Limiter.Allow(pid) {
		log.Warn().Str("module", "signal").Str("peer", string(pid)).Str("type", env.Type).Msg("rate limited")
		if env.ID != 0 {
			ctl.respond(c, env, errorPayload{Error: "too many requests"})
		}
		return
	}

	switch env.Type {
	case "joinRoom":
		ctl.handleJoinRoom(ctx, pid, c, env)
	case "createWebRtcTransport":
		ctl.handleCreateTransport(ctx, pid, c, env)
	case "getProducers":
		ctl.handleGetProducers(pid, c, env)
	case "transport-connect":
		ctl.handleTransportConnect(ctx, pid, env)
	case "transport-produce":
		ctl.handleTransportProduce(ctx, pid, c, env)
	case "transport-recv-connect":
		ctl.handleRecvConnect(ctx, pid, env)
	case "consume":
		ctl.handleConsume(ctx, pid, c, env)
	case "consumer-resume":
		ctl.handleConsumerResume(ctx, pid, env)
	case "startRecording":
		ctl.handleStartRecording(ctx, pid, c, env)
	case "stopRecording":
		ctl.handleStopRecording(ctx, pid, c, env)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
	}
}

// createsResources marks the message types that allocate engine or recorder
// state. Reads, connects and resumes are not limited.
func createsResources(typ string) bool {
	switch typ {
	case "joinRoom", "createWebRtcTransport", "transport-produce", "consume", "startRecording":
		return true
	}
	return false
}

// respond echoes type and id of the request with the given payload.
func (ctl *Controller) respond(c *WsSignalConn, req Envelope, payload any) {
	ctl.sendEnvelope(c, Envelope{Type: req.Type, ID: req.ID}, payload)
}

func (ctl *Controller) respondErr(c *WsSignalConn, req Envelope, err error) {
	log.Warn().Err(err).Str("module", "signal").Str("type", req.Type).Msg("request failed")
	if req.ID == 0 {
		return
	}
	ctl.respond(c, req, errorPayload{Error: errorText(err)})
}

func (ctl *Controller) sendEnvelope(conn core.SignalConnection, env Envelope, payload any) {
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			log.Error().Err(err).Str("module", "signal").Msg("marshal payload")
			return
		}
		env.Data = data
	}
	b, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("marshal envelope")
		return
	}
	if err := conn.TrySend(b); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("type", env.Type).Msg("send dropped")
	}
}
