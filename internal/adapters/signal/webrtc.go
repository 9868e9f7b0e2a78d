package signal

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/ametov/parley/internal/core"
	"github.com/ametov/parley/internal/domain"
)

func (ctl *Controller) handleCreateTransport(ctx context.Context, pid domain.PeerID, c *WsSignalConn, env Envelope) {
	var req createTransportRequest
	if err := json.Unmarshal(env.Data, &req); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad createWebRtcTransport payload")
		return
	}

	opts, err := ctl.Orch.CreateTransport(ctx, pid, req.IsConsumer)
	if err != nil {
		ctl.respondErr(c, env, err)
		return
	}
	ctl.respond(c, env, opts)
}

func (ctl *Controller) handleTransportConnect(ctx context.Context, pid domain.PeerID, env Envelope) {
	var req transportConnectRequest
	if err := json.Unmarshal(env.Data, &req); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad transport-connect payload")
		return
	}
	if err := ctl.Orch.ConnectSendTransport(ctx, pid, req.DTLSParameters); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("peer", string(pid)).Msg("transport-connect failed")
	}
}

func (ctl *Controller) handleTransportProduce(ctx context.Context, pid domain.PeerID, c *WsSignalConn, env Envelope) {
	var req transportProduceRequest
	if err := json.Unmarshal(env.Data, &req); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad transport-produce payload")
		return
	}

	id, othersExist, err := ctl.Orch.Produce(ctx, pid, req.Kind, req.RTPParameters)
	if err != nil {
		ctl.respondErr(c, env, err)
		return
	}
	ctl.respond(c, env, transportProduceResponse{ID: id, ProducersExist: othersExist})
}

func (ctl *Controller) handleRecvConnect(ctx context.Context, pid domain.PeerID, env Envelope) {
	var req recvConnectRequest
	if err := json.Unmarshal(env.Data, &req); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad transport-recv-connect payload")
		return
	}
	if err := ctl.Orch.ConnectRecvTransport(ctx, pid, req.ServerConsumerTransportID, req.DTLSParameters); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("peer", string(pid)).Msg("transport-recv-connect failed")
	}
}

// handleConsume answers with {params: {...}} on success and {params: {error}}
// otherwise. A capability mismatch is an expected negotiation outcome, so it
// rides the same shape instead of the generic error payload.
func (ctl *Controller) handleConsume(ctx context.Context, pid domain.PeerID, c *WsSignalConn, env Envelope) {
	var req consumeRequest
	if err := json.Unmarshal(env.Data, &req); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad consume payload")
		return
	}

	params, err := ctl.Orch.Consume(ctx, pid, req.RemoteProducerID, req.ServerConsumerTransportID, req.RTPCapabilities)
	if err != nil {
		if !errors.Is(err, core.ErrCannotConsume) {
			log.Warn().Err(err).Str("module", "signal").Str("peer", string(pid)).Msg("consume failed")
		}
		ctl.respond(c, env, map[string]any{"params": errorPayload{Error: errorText(err)}})
		return
	}
	ctl.respond(c, env, map[string]any{"params": params})
}

func (ctl *Controller) handleConsumerResume(ctx context.Context, pid domain.PeerID, env Envelope) {
	var req consumerResumeRequest
	if err := json.Unmarshal(env.Data, &req); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad consumer-resume payload")
		return
	}
	if err := ctl.Orch.ResumeConsumer(ctx, pid, req.ServerConsumerID); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("peer", string(pid)).Msg("consumer-resume failed")
	}
}
