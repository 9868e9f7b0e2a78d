package signal

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/ametov/parley/internal/domain"
)

func (ctl *Controller) handleJoinRoom(ctx context.Context, pid domain.PeerID, c *WsSignalConn, env Envelope) {
	var req joinRoomRequest
	if err := json.Unmarshal(env.Data, &req); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad joinRoom payload")
		return
	}

	caps, err := ctl.Orch.Join(ctx, pid, domain.RoomName(req.RoomName), req.UserName)
	if err != nil {
		ctl.respondErr(c, env, err)
		return
	}
	ctl.respond(c, env, joinRoomResponse{RoutingCapabilities: caps})
}

func (ctl *Controller) handleGetProducers(pid domain.PeerID, c *WsSignalConn, env Envelope) {
	ids, err := ctl.Orch.ListProducers(pid)
	if err != nil {
		ctl.respondErr(c, env, err)
		return
	}
	ctl.respond(c, env, ids)
}
