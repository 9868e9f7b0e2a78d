package rtc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/ametov/parley/internal/core"
	"github.com/ametov/parley/internal/domain"
)

// consumer forwards one producer's packets to an RTPSender on a receive
// transport. Created paused; packets flow after Resume.
type consumer struct {
	id     domain.ConsumerID
	src    *producer
	local  *webrtc.TrackLocalStaticRTP
	sender *webrtc.RTPSender
	params core.ConsumerParams

	mu      sync.Mutex
	resumed bool
	closed  bool
}

func newConsumer(t *transport, src *producer) (*consumer, error) {
	id := domain.ConsumerID(uuid.NewString())
	local, err := webrtc.NewTrackLocalStaticRTP(src.track.Codec().RTPCodecCapability, string(src.id), "parley")
	if err != nil {
		return nil, fmt.Errorf("new local track: %w", err)
	}
	sender, err := t.engine.api.NewRTPSender(local, t.dtls)
	if err != nil {
		return nil, fmt.Errorf("new rtp sender: %w", err)
	}
	sendParams := sender.GetParameters()
	if err := sender.Send(sendParams); err != nil {
		return nil, fmt.Errorf("sender send: %w", err)
	}

	rawParams, err := json.Marshal(sendParams)
	if err != nil {
		return nil, err
	}
	return &consumer{
		id:     id,
		src:    src,
		local:  local,
		sender: sender,
		params: core.ConsumerParams{
			ID:            id,
			ProducerID:    src.id,
			Kind:          src.kind,
			RTPParameters: rawParams,
		},
	}, nil
}

func (c *consumer) ID() domain.ConsumerID       { return c.id }
func (c *consumer) Params() core.ConsumerParams { return c.params }

// Resume attaches the consumer as a sink of its producer.
func (c *consumer) Resume(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("consumer %s closed", c.id)
	}
	if c.resumed {
		return nil
	}
	c.resumed = true
	c.src.AddSink(string(c.id), func(pkt *rtp.Packet) {
		if err := c.local.WriteRTP(pkt); err != nil {
			log.Debug().Err(err).Str("module", "rtc").Str("consumer", string(c.id)).Msg("write rtp")
		}
	})
	return nil
}

func (c *consumer) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	c.src.RemoveSink(string(c.id))
	if err := c.sender.Stop(); err != nil {
		log.Debug().Err(err).Str("module", "rtc").Str("consumer", string(c.id)).Msg("sender stop")
	}
}
