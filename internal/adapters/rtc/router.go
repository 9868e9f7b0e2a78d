package rtc

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/ametov/parley/internal/core"
	"github.com/ametov/parley/internal/domain"
)

// routerCodecs is the fixed routing codec set: Opus at 48 kHz/2ch and VP8 at
// 90 kHz with an initial target bitrate hint.
func routerCodecs() []webrtc.RTPCodecParameters {
	return []webrtc.RTPCodecParameters{
		{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:  webrtc.MimeTypeOpus,
				ClockRate: 48000,
				Channels:  2,
			},
			PayloadType: 111,
		},
		{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:    webrtc.MimeTypeVP8,
				ClockRate:   90000,
				SDPFmtpLine: "x-google-start-bitrate=1000",
			},
			PayloadType: 96,
		},
	}
}

type capabilityCodec struct {
	Kind        string `json:"kind"`
	MimeType    string `json:"mimeType"`
	ClockRate   uint32 `json:"clockRate"`
	Channels    uint16 `json:"channels,omitempty"`
	SDPFmtpLine string `json:"sdpFmtpLine,omitempty"`
}

type capabilities struct {
	Codecs []capabilityCodec `json:"codecs"`
}

type router struct {
	engine *Engine
	caps   json.RawMessage

	mu     sync.Mutex
	closed bool
}

func newRouter(e *Engine) *router {
	caps := capabilities{}
	for _, params := range routerCodecs() {
		kind := "audio"
		if params.RTPCodecCapability.MimeType == webrtc.MimeTypeVP8 {
			kind = "video"
		}
		caps.Codecs = append(caps.Codecs, capabilityCodec{
			Kind:        kind,
			MimeType:    params.RTPCodecCapability.MimeType,
			ClockRate:   params.RTPCodecCapability.ClockRate,
			Channels:    params.RTPCodecCapability.Channels,
			SDPFmtpLine: params.RTPCodecCapability.SDPFmtpLine,
		})
	}
	raw, _ := json.Marshal(caps)
	return &router{engine: e, caps: raw}
}

func (r *router) RTPCapabilities() json.RawMessage { return r.caps }

// CanConsume checks that the receiving capabilities carry a codec able to
// decode the producer's kind. Mismatch is a negotiation outcome, not a fault.
func (r *router) CanConsume(producer core.Producer, rtpCapabilities json.RawMessage) bool {
	var caps capabilities
	if err := json.Unmarshal(rtpCapabilities, &caps); err != nil {
		return false
	}
	want := webrtc.MimeTypeOpus
	if producer.Kind() == domain.MediaKindVideo {
		want = webrtc.MimeTypeVP8
	}
	for _, codec := range caps.Codecs {
		if strings.EqualFold(codec.MimeType, want) {
			return true
		}
	}
	return false
}

func (r *router) CreateTransport(ctx context.Context) (core.Transport, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrEngineClosed
	}
	r.mu.Unlock()
	return newTransport(ctx, r.engine)
}

func (r *router) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}
