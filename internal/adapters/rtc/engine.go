// Package rtc implements the media engine boundary on top of pion/webrtc's
// ORTC API: one ICE/DTLS transport pair per WebRtcTransport, an RTPReceiver
// per producer and an RTPSender per consumer.
package rtc

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/ametov/parley/internal/core"
)

var ErrEngineClosed = errors.New("engine closed")

type Config struct {
	ICEServers []string
	// AnnounceIP is advertised in candidates instead of the local address
	// when the server sits behind 1:1 NAT.
	AnnounceIP string
}

type Engine struct {
	api *webrtc.API
	cfg Config

	mu     sync.Mutex
	closed bool
	died   []func(error)
}

func NewEngine(cfg Config) (*Engine, error) {
	media := &webrtc.MediaEngine{}
	for _, params := range routerCodecs() {
		kind := webrtc.RTPCodecTypeAudio
		if params.RTPCodecCapability.MimeType == webrtc.MimeTypeVP8 {
			kind = webrtc.RTPCodecTypeVideo
		}
		if err := media.RegisterCodec(params, kind); err != nil {
			return nil, err
		}
	}

	settings := webrtc.SettingEngine{}
	if cfg.AnnounceIP != "" {
		settings.SetNAT1To1IPs([]string{cfg.AnnounceIP}, webrtc.ICECandidateTypeHost)
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(media),
		webrtc.WithSettingEngine(settings),
	)
	return &Engine{api: api, cfg: cfg}, nil
}

// CreateRouter builds the per-room routing context with the fixed codec set.
func (e *Engine) CreateRouter(ctx context.Context) (core.Router, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrEngineClosed
	}
	return newRouter(e), nil
}

// OnDied registers a fatal-fault callback. This engine runs in process and
// shares the server's lifetime, so it has no worker to lose and never fires
// the callbacks; the hook is part of the boundary for engine implementations
// that supervise an external media worker.
func (e *Engine) OnDied(fn func(error)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.died = append(e.died, fn)
}

func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
}

func (e *Engine) iceGatherOptions() webrtc.ICEGatherOptions {
	var servers []webrtc.ICEServer
	for _, url := range e.cfg.ICEServers {
		servers = append(servers, webrtc.ICEServer{URLs: []string{url}})
	}
	return webrtc.ICEGatherOptions{ICEServers: servers}
}
