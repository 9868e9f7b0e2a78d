package orch

import (
	"context"

	"github.com/ametov/parley/internal/domain"
)

// StartRecording validates and starts a combined recording of the given
// producer pair in the caller's room.
func (o *Orchestrator) StartRecording(ctx context.Context, pid domain.PeerID, audioID, videoID domain.ProducerID) (string, error) {
	room, err := o.requireRoom(pid)
	if err != nil {
		return "", err
	}
	callCtx, cancel := o.callCtx(ctx)
	defer cancel()
	return o.Recordings.Start(callCtx, audioID, videoID, room, pid)
}

// StopRecording ends the recording keyed by the same producer pair.
func (o *Orchestrator) StopRecording(ctx context.Context, pid domain.PeerID, audioID, videoID domain.ProducerID) (string, error) {
	if _, err := o.requireRoom(pid); err != nil {
		return "", err
	}
	callCtx, cancel := o.callCtx(ctx)
	defer cancel()
	return o.Recordings.Stop(callCtx, audioID, videoID)
}
