package core

import (
	"context"
	"encoding/json"

	"github.com/ametov/parley/internal/domain"
)

// MediaEngine is the external media transport boundary. Everything the
// negotiation exchanges (capabilities, parameters) stays opaque JSON here;
// only the engine adapter interprets it.
type MediaEngine interface {
	// CreateRouter builds a per-room routing context with the fixed codec
	// set (Opus 48kHz/2ch, VP8 90kHz).
	CreateRouter(ctx context.Context) (Router, error)
	// OnDied registers a callback fired when the engine becomes unusable.
	// Room state is not recoverable afterwards; the process must exit.
	OnDied(fn func(err error))
	Close()
}

// Router forwards media between producers and consumers of one room.
type Router interface {
	RTPCapabilities() json.RawMessage
	// CanConsume reports whether the given receiving capabilities are able
	// to consume the producer's stream. A false answer is a negotiation
	// outcome, not an error.
	CanConsume(producer Producer, rtpCapabilities json.RawMessage) bool
	CreateTransport(ctx context.Context) (Transport, error)
	Close()
}

// TransportOptions is what a client needs to connect the transport on its side.
type TransportOptions struct {
	ID             domain.TransportID `json:"id"`
	ICEParameters  json.RawMessage    `json:"iceParameters"`
	ICECandidates  json.RawMessage    `json:"iceCandidates"`
	DTLSParameters json.RawMessage    `json:"dtlsParameters"`
}

type Transport interface {
	ID() domain.TransportID
	Options() TransportOptions
	Connect(ctx context.Context, dtlsParameters json.RawMessage) error
	Produce(ctx context.Context, kind domain.MediaKind, rtpParameters json.RawMessage) (Producer, error)
	Consume(ctx context.Context, producer Producer, rtpCapabilities json.RawMessage) (Consumer, error)
	// OnClose fires once when the transport shuts down on the engine side
	// (DTLS teardown, engine failure), not when Close() is called locally.
	OnClose(fn func())
	Close()
}

type Producer interface {
	ID() domain.ProducerID
	Kind() domain.MediaKind
	// OnClose fires once when the stream ends on the engine side.
	OnClose(fn func())
	Close()
}

// ConsumerParams is the response payload a consuming client needs.
type ConsumerParams struct {
	ID            domain.ConsumerID `json:"id"`
	ProducerID    domain.ProducerID `json:"producerId"`
	Kind          domain.MediaKind  `json:"kind"`
	RTPParameters json.RawMessage   `json:"rtpParameters"`
}

type Consumer interface {
	ID() domain.ConsumerID
	Params() ConsumerParams
	// Resume starts delivery; consumers are created paused so the client
	// can finish its setup first.
	Resume(ctx context.Context) error
	Close()
}

// Recorder is the external recording boundary: one job per
// (audio producer, video producer) pair.
type Recorder interface {
	StartCombined(ctx context.Context, audio, video Producer, room domain.RoomName, peer domain.PeerID) (fileName string, err error)
	StopCombined(ctx context.Context, audioID, videoID domain.ProducerID) (filePath string, err error)
}

// Notifier pushes fire-and-forget server events to peers. Implemented by the
// signaling adapter; delivery is best effort.
type Notifier interface {
	NewProducer(peer domain.PeerID, producer domain.ProducerID)
	ProducerClosed(peer domain.PeerID, producer domain.ProducerID)
}
