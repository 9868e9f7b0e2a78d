// Package record implements the recording boundary with pion's media writers:
// the audio producer goes to an OGG file, the video producer to an IVF file,
// paired under one session base name. Muxing into a single container is the
// concern of whatever consumes the pair afterwards.
package record

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/ametov/parley/internal/core"
	"github.com/ametov/parley/internal/domain"
)

// rtpSource is what a producer handle must expose to be recordable.
type rtpSource interface {
	AddSink(key string, fn func(*rtp.Packet))
	RemoveSink(key string)
}

type pairKey struct {
	audio domain.ProducerID
	video domain.ProducerID
}

type job struct {
	base    string
	audio   rtpSource
	video   rtpSource
	sinkKey string

	audioCh chan *rtp.Packet
	videoCh chan *rtp.Packet
	group   *errgroup.Group
}

// Recorder writes one (audio, video) producer pair per job into dir.
type Recorder struct {
	dir string

	mu   sync.Mutex
	jobs map[pairKey]*job
}

func NewRecorder(dir string) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create recording dir: %w", err)
	}
	return &Recorder{dir: dir, jobs: make(map[pairKey]*job)}, nil
}

// StartCombined attaches writers to both producers and returns the session
// base name. The produced files are <base>.ogg and <base>.ivf.
func (r *Recorder) StartCombined(ctx context.Context, audio, video core.Producer, room domain.RoomName, peer domain.PeerID) (string, error) {
	audioSrc, ok := audio.(rtpSource)
	if !ok {
		return "", fmt.Errorf("audio producer does not expose an rtp stream: %w", core.ErrRecorderFailure)
	}
	videoSrc, ok := video.(rtpSource)
	if !ok {
		return "", fmt.Errorf("video producer does not expose an rtp stream: %w", core.ErrRecorderFailure)
	}

	base := fmt.Sprintf("%s-%d", room, time.Now().UnixMilli())
	audioWriter, err := oggwriter.New(filepath.Join(r.dir, base+".ogg"), 48000, 2)
	if err != nil {
		return "", fmt.Errorf("open ogg writer: %w", err)
	}
	videoWriter, err := ivfwriter.New(filepath.Join(r.dir, base+".ivf"))
	if err != nil {
		_ = audioWriter.Close()
		return "", fmt.Errorf("open ivf writer: %w", err)
	}

	j := &job{
		base:    base,
		audio:   audioSrc,
		video:   videoSrc,
		sinkKey: "record:" + base,
		audioCh: make(chan *rtp.Packet, 512),
		videoCh: make(chan *rtp.Packet, 512),
		group:   &errgroup.Group{},
	}

	// Drain in dedicated goroutines; the producer loops must never block on
	// disk IO.
	j.group.Go(func() error {
		defer audioWriter.Close()
		for pkt := range j.audioCh {
			if err := audioWriter.WriteRTP(pkt); err != nil {
				return fmt.Errorf("write ogg: %w", err)
			}
		}
		return nil
	})
	j.group.Go(func() error {
		defer videoWriter.Close()
		for pkt := range j.videoCh {
			if err := videoWriter.WriteRTP(pkt); err != nil {
				return fmt.Errorf("write ivf: %w", err)
			}
		}
		return nil
	})

	audioSrc.AddSink(j.sinkKey, func(pkt *rtp.Packet) { enqueue(j.audioCh, pkt) })
	videoSrc.AddSink(j.sinkKey, func(pkt *rtp.Packet) { enqueue(j.videoCh, pkt) })

	key := pairKey{audio: audio.ID(), video: video.ID()}
	r.mu.Lock()
	r.jobs[key] = j
	r.mu.Unlock()

	log.Info().Str("module", "record").Str("room", string(room)).Str("peer", string(peer)).Str("base", base).Msg("combined recording started")
	return base, nil
}

// StopCombined detaches the writers, flushes and returns the session path
// prefix (the pair lives at <prefix>.ogg / <prefix>.ivf).
func (r *Recorder) StopCombined(ctx context.Context, audioID, videoID domain.ProducerID) (string, error) {
	key := pairKey{audio: audioID, video: videoID}
	r.mu.Lock()
	j, ok := r.jobs[key]
	delete(r.jobs, key)
	r.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("recording job for pair: %w", core.ErrNotFound)
	}

	j.audio.RemoveSink(j.sinkKey)
	j.video.RemoveSink(j.sinkKey)
	close(j.audioCh)
	close(j.videoCh)
	if err := j.group.Wait(); err != nil {
		log.Warn().Err(err).Str("module", "record").Str("base", j.base).Msg("writer finished with error")
	}

	path := filepath.Join(r.dir, j.base)
	log.Info().Str("module", "record").Str("base", j.base).Msg("combined recording stopped")
	return path, nil
}

// enqueue drops the packet when the drain goroutine is behind. A gap in the
// file beats stalling the media path. Sinks are detached before the channels
// close, so no send can race the close.
func enqueue(ch chan *rtp.Packet, pkt *rtp.Packet) {
	select {
	case ch <- pkt:
	default:
	}
}
