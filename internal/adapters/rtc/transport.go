package rtc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/ametov/parley/internal/core"
	"github.com/ametov/parley/internal/domain"
)

// transport is one ICE agent + DTLS session. The server side always gathers
// first and answers with its parameters; the client connects with its own.
type transport struct {
	id       domain.TransportID
	engine   *Engine
	gatherer *webrtc.ICEGatherer
	ice      *webrtc.ICETransport
	dtls     *webrtc.DTLSTransport
	opts     core.TransportOptions

	mu        sync.Mutex
	closed    bool
	producers []*producer
	consumers []*consumer
	onClose   []func()
	closeOnce sync.Once
}

func newTransport(ctx context.Context, e *Engine) (*transport, error) {
	gatherer, err := e.api.NewICEGatherer(e.iceGatherOptions())
	if err != nil {
		return nil, fmt.Errorf("new ice gatherer: %w", err)
	}
	ice := e.api.NewICETransport(gatherer)
	dtls, err := e.api.NewDTLSTransport(ice, nil)
	if err != nil {
		return nil, fmt.Errorf("new dtls transport: %w", err)
	}

	t := &transport{
		id:       domain.TransportID(uuid.NewString()),
		engine:   e,
		gatherer: gatherer,
		ice:      ice,
		dtls:     dtls,
	}

	gatherDone := make(chan struct{})
	gatherer.OnLocalCandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			close(gatherDone)
		}
	})
	if err := gatherer.Gather(); err != nil {
		return nil, fmt.Errorf("ice gather: %w", err)
	}
	select {
	case <-gatherDone:
	case <-ctx.Done():
		_ = gatherer.Close()
		return nil, ctx.Err()
	}

	if err := t.buildOptions(); err != nil {
		_ = gatherer.Close()
		return nil, err
	}

	dtls.OnStateChange(func(state webrtc.DTLSTransportState) {
		log.Debug().Str("module", "rtc").Str("transport", string(t.id)).Str("dtls_state", state.String()).Msg("dtls state")
		if state == webrtc.DTLSTransportStateClosed || state == webrtc.DTLSTransportStateFailed {
			t.fireClose()
		}
	})

	return t, nil
}

func (t *transport) buildOptions() error {
	iceParams, err := t.gatherer.GetLocalParameters()
	if err != nil {
		return fmt.Errorf("local ice parameters: %w", err)
	}
	candidates, err := t.gatherer.GetLocalCandidates()
	if err != nil {
		return fmt.Errorf("local ice candidates: %w", err)
	}
	dtlsParams, err := t.dtls.GetLocalParameters()
	if err != nil {
		return fmt.Errorf("local dtls parameters: %w", err)
	}

	rawICE, err := json.Marshal(iceParams)
	if err != nil {
		return err
	}
	rawCandidates, err := json.Marshal(candidates)
	if err != nil {
		return err
	}
	rawDTLS, err := json.Marshal(dtlsParams)
	if err != nil {
		return err
	}
	t.opts = core.TransportOptions{
		ID:             t.id,
		ICEParameters:  rawICE,
		ICECandidates:  rawCandidates,
		DTLSParameters: rawDTLS,
	}
	return nil
}

func (t *transport) ID() domain.TransportID         { return t.id }
func (t *transport) Options() core.TransportOptions { return t.opts }

type connectParameters struct {
	ICEParameters  *webrtc.ICEParameters  `json:"iceParameters,omitempty"`
	ICECandidates  []webrtc.ICECandidate  `json:"iceCandidates,omitempty"`
	DTLSParameters *webrtc.DTLSParameters `json:"dtlsParameters"`
}

// Connect starts ICE and DTLS with the client's parameters. The blob is the
// client-side mirror of Options(); the server takes the controlled role.
func (t *transport) Connect(ctx context.Context, raw json.RawMessage) error {
	var params connectParameters
	if err := json.Unmarshal(raw, &params); err != nil {
		return fmt.Errorf("parse connect parameters: %w", err)
	}
	if params.DTLSParameters == nil {
		return fmt.Errorf("connect parameters missing dtlsParameters")
	}

	done := make(chan error, 1)
	go func() {
		if params.ICEParameters != nil {
			if len(params.ICECandidates) > 0 {
				if err := t.ice.SetRemoteCandidates(params.ICECandidates); err != nil {
					done <- fmt.Errorf("set remote candidates: %w", err)
					return
				}
			}
			role := webrtc.ICERoleControlled
			if err := t.ice.Start(t.gatherer, *params.ICEParameters, &role); err != nil {
				done <- fmt.Errorf("ice start: %w", err)
				return
			}
		}
		if err := t.dtls.Start(*params.DTLSParameters); err != nil {
			done <- fmt.Errorf("dtls start: %w", err)
			return
		}
		done <- nil
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type produceParameters struct {
	Encodings []struct {
		SSRC uint32 `json:"ssrc"`
	} `json:"encodings"`
}

func (t *transport) Produce(ctx context.Context, kind domain.MediaKind, rtpParameters json.RawMessage) (core.Producer, error) {
	var params produceParameters
	if err := json.Unmarshal(rtpParameters, &params); err != nil {
		return nil, fmt.Errorf("parse rtp parameters: %w", err)
	}
	if len(params.Encodings) == 0 {
		return nil, fmt.Errorf("rtp parameters without encodings")
	}

	codecType := webrtc.RTPCodecTypeAudio
	if kind == domain.MediaKindVideo {
		codecType = webrtc.RTPCodecTypeVideo
	}
	receiver, err := t.engine.api.NewRTPReceiver(codecType, t.dtls)
	if err != nil {
		return nil, fmt.Errorf("new rtp receiver: %w", err)
	}
	err = receiver.Receive(webrtc.RTPReceiveParameters{
		Encodings: []webrtc.RTPDecodingParameters{
			{RTPCodingParameters: webrtc.RTPCodingParameters{SSRC: webrtc.SSRC(params.Encodings[0].SSRC)}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("receive: %w", err)
	}

	prod := newProducer(kind, receiver)

	t.mu.Lock()
	t.producers = append(t.producers, prod)
	t.mu.Unlock()
	return prod, nil
}

func (t *transport) Consume(ctx context.Context, p core.Producer, rtpCapabilities json.RawMessage) (core.Consumer, error) {
	src, ok := p.(*producer)
	if !ok {
		return nil, fmt.Errorf("producer handle is not an rtc producer")
	}

	cons, err := newConsumer(t, src)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	t.consumers = append(t.consumers, cons)
	t.mu.Unlock()
	return cons, nil
}

// OnClose fires when the transport dies on the wire, not on a local Close().
func (t *transport) OnClose(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onClose = append(t.onClose, fn)
}

func (t *transport) fireClose() {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		fns := t.onClose
		t.mu.Unlock()
		t.shutdown()
		for _, fn := range fns {
			fn()
		}
	})
}

func (t *transport) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.mu.Unlock()
	t.shutdown()
}

func (t *transport) shutdown() {
	t.mu.Lock()
	producers := t.producers
	consumers := t.consumers
	t.producers = nil
	t.consumers = nil
	t.mu.Unlock()

	for _, cons := range consumers {
		cons.Close()
	}
	for _, prod := range producers {
		prod.Close()
	}
	if err := t.dtls.Stop(); err != nil {
		log.Debug().Err(err).Str("module", "rtc").Str("transport", string(t.id)).Msg("dtls stop")
	}
	if err := t.ice.Stop(); err != nil {
		log.Debug().Err(err).Str("module", "rtc").Str("transport", string(t.id)).Msg("ice stop")
	}
}
