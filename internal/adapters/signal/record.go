package signal

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/ametov/parley/internal/core"
	"github.com/ametov/parley/internal/domain"
)

func (ctl *Controller) handleStartRecording(ctx context.Context, pid domain.PeerID, c *WsSignalConn, env Envelope) {
	var req recordingRequest
	if err := json.Unmarshal(env.Data, &req); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad startRecording payload")
		return
	}

	fileName, err := ctl.Orch.StartRecording(ctx, pid, req.AudioProducerID, req.VideoProducerID)
	if err != nil {
		ctl.respond(c, env, errorPayload{Error: startRecordingErrorText(err)})
		return
	}
	ctl.respond(c, env, startRecordingResponse{Success: true, FileName: fileName})
}

func (ctl *Controller) handleStopRecording(ctx context.Context, pid domain.PeerID, c *WsSignalConn, env Envelope) {
	var req recordingRequest
	if err := json.Unmarshal(env.Data, &req); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad stopRecording payload")
		return
	}

	filePath, err := ctl.Orch.StopRecording(ctx, pid, req.AudioProducerID, req.VideoProducerID)
	if err != nil {
		ctl.respond(c, env, errorPayload{Error: recordingErrorText(err)})
		return
	}
	ctl.respond(c, env, stopRecordingResponse{Success: true, FilePath: filePath})
}

func startRecordingErrorText(err error) string {
	switch {
	case errors.Is(err, core.ErrInvalidKind):
		return "Invalid producer kinds: need one audio and one video producer"
	case errors.Is(err, core.ErrNotFound):
		return "Producer not found"
	default:
		return errorText(err)
	}
}

func recordingErrorText(err error) string {
	if errors.Is(err, core.ErrNotFound) {
		return "Recording not found"
	}
	return errorText(err)
}
