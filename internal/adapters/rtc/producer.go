package rtc

import (
	"sync"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/ametov/parley/internal/domain"
)

// producer wraps one RTPReceiver and fans its packets out to any number of
// sinks (consumers, the recorder). One read loop per producer; sinks must not
// block.
type producer struct {
	id       domain.ProducerID
	kind     domain.MediaKind
	receiver *webrtc.RTPReceiver
	track    *webrtc.TrackRemote

	mu      sync.Mutex
	sinks   map[string]func(*rtp.Packet)
	closed  bool
	onClose []func()
	once    sync.Once
}

func newProducer(kind domain.MediaKind, receiver *webrtc.RTPReceiver) *producer {
	p := &producer{
		id:       domain.ProducerID(uuid.NewString()),
		kind:     kind,
		receiver: receiver,
		track:    receiver.Track(),
		sinks:    make(map[string]func(*rtp.Packet)),
	}
	go p.loop()
	return p
}

func (p *producer) ID() domain.ProducerID  { return p.id }
func (p *producer) Kind() domain.MediaKind { return p.kind }

// Track exposes the remote track for codec matching on the consumer side.
func (p *producer) Track() *webrtc.TrackRemote { return p.track }

// AddSink registers a packet sink under the given key.
func (p *producer) AddSink(key string, fn func(*rtp.Packet)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.sinks[key] = fn
}

func (p *producer) RemoveSink(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.sinks, key)
}

func (p *producer) loop() {
	for {
		pkt, _, err := p.track.ReadRTP()
		if err != nil {
			p.mu.Lock()
			wasClosed := p.closed
			p.mu.Unlock()
			if !wasClosed {
				log.Info().Err(err).Str("module", "rtc").Str("producer", string(p.id)).Msg("producer stream ended")
				p.fireClose()
			}
			return
		}
		p.mu.Lock()
		for _, sink := range p.sinks {
			sink(pkt)
		}
		p.mu.Unlock()
	}
}

// OnClose fires when the stream ends on the wire, not on a local Close().
func (p *producer) OnClose(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onClose = append(p.onClose, fn)
}

func (p *producer) fireClose() {
	p.once.Do(func() {
		p.mu.Lock()
		p.closed = true
		fns := p.onClose
		p.sinks = map[string]func(*rtp.Packet){}
		p.mu.Unlock()
		_ = p.receiver.Stop()
		for _, fn := range fns {
			fn()
		}
	})
}

func (p *producer) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.sinks = map[string]func(*rtp.Packet){}
	p.mu.Unlock()
	if err := p.receiver.Stop(); err != nil {
		log.Debug().Err(err).Str("module", "rtc").Str("producer", string(p.id)).Msg("receiver stop")
	}
}
