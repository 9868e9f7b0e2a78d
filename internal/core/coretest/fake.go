// Package coretest provides in-memory fakes of the media engine, recorder and
// signaling connection boundaries for registry and orchestration tests.
package coretest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ametov/parley/internal/core"
	"github.com/ametov/parley/internal/domain"
)

type Engine struct {
	mu        sync.Mutex
	seq       int
	died      []func(error)
	RouterErr error
}

func NewEngine() *Engine { return &Engine{} }

func (e *Engine) CreateRouter(ctx context.Context) (core.Router, error) {
	if e.RouterErr != nil {
		return nil, e.RouterErr
	}
	return &Router{engine: e, CanConsumeResult: true}, nil
}

func (e *Engine) OnDied(fn func(error)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.died = append(e.died, fn)
}

// Die simulates the engine worker terminating.
func (e *Engine) Die(err error) {
	e.mu.Lock()
	fns := e.died
	e.mu.Unlock()
	for _, fn := range fns {
		fn(err)
	}
}

func (e *Engine) Close() {}

func (e *Engine) nextID(prefix string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seq++
	return fmt.Sprintf("%s-%d", prefix, e.seq)
}

type Router struct {
	engine *Engine

	CanConsumeResult bool
	TransportErr     error
	Closed           bool
}

func (r *Router) RTPCapabilities() json.RawMessage {
	return json.RawMessage(`{"codecs":[{"kind":"audio","mimeType":"audio/opus"},{"kind":"video","mimeType":"video/VP8"}]}`)
}

func (r *Router) CanConsume(core.Producer, json.RawMessage) bool { return r.CanConsumeResult }

func (r *Router) CreateTransport(ctx context.Context) (core.Transport, error) {
	if r.TransportErr != nil {
		return nil, r.TransportErr
	}
	return &Transport{
		engine: r.engine,
		id:     domain.TransportID(r.engine.nextID("transport")),
	}, nil
}

func (r *Router) Close() { r.Closed = true }

type Transport struct {
	engine *Engine
	id     domain.TransportID

	mu        sync.Mutex
	Connected bool
	Closed    bool
	onClose   []func()

	ProduceErr error
	ConsumeErr error
}

func (t *Transport) ID() domain.TransportID { return t.id }

func (t *Transport) Options() core.TransportOptions {
	return core.TransportOptions{
		ID:             t.id,
		ICEParameters:  json.RawMessage(`{}`),
		ICECandidates:  json.RawMessage(`[]`),
		DTLSParameters: json.RawMessage(`{}`),
	}
}

func (t *Transport) Connect(ctx context.Context, dtlsParameters json.RawMessage) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Connected = true
	return nil
}

func (t *Transport) Produce(ctx context.Context, kind domain.MediaKind, rtpParameters json.RawMessage) (core.Producer, error) {
	if t.ProduceErr != nil {
		return nil, t.ProduceErr
	}
	return &Producer{
		id:   domain.ProducerID(t.engine.nextID("producer")),
		kind: kind,
	}, nil
}

func (t *Transport) Consume(ctx context.Context, producer core.Producer, rtpCapabilities json.RawMessage) (core.Consumer, error) {
	if t.ConsumeErr != nil {
		return nil, t.ConsumeErr
	}
	return &Consumer{
		id:       domain.ConsumerID(t.engine.nextID("consumer")),
		producer: producer,
	}, nil
}

func (t *Transport) OnClose(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onClose = append(t.onClose, fn)
}

// FireClose simulates the transport dying on the engine side.
func (t *Transport) FireClose() {
	t.mu.Lock()
	fns := t.onClose
	t.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (t *Transport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Closed = true
}

type Producer struct {
	id   domain.ProducerID
	kind domain.MediaKind

	mu      sync.Mutex
	Closed  bool
	onClose []func()
}

// NewProducer builds a standalone fake producer for registry tests.
func NewProducer(id domain.ProducerID, kind domain.MediaKind) *Producer {
	return &Producer{id: id, kind: kind}
}

func (p *Producer) ID() domain.ProducerID  { return p.id }
func (p *Producer) Kind() domain.MediaKind { return p.kind }

func (p *Producer) OnClose(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onClose = append(p.onClose, fn)
}

// FireClose simulates the stream ending on the engine side.
func (p *Producer) FireClose() {
	p.mu.Lock()
	fns := p.onClose
	p.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (p *Producer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Closed = true
}

type Consumer struct {
	id       domain.ConsumerID
	producer core.Producer

	mu      sync.Mutex
	Resumed bool
	Closed  bool
}

func (c *Consumer) ID() domain.ConsumerID { return c.id }

func (c *Consumer) Params() core.ConsumerParams {
	return core.ConsumerParams{
		ID:            c.id,
		ProducerID:    c.producer.ID(),
		Kind:          c.producer.Kind(),
		RTPParameters: json.RawMessage(`{}`),
	}
}

func (c *Consumer) Resume(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Resumed = true
	return nil
}

func (c *Consumer) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Closed = true
}

// Recorder records calls instead of media.
type Recorder struct {
	mu       sync.Mutex
	seq      int
	StartErr error
	StopErr  error
	Started  [][2]domain.ProducerID
	Stopped  [][2]domain.ProducerID

	// StartHook runs inside StartCombined, simulating state changes while
	// the call is in flight.
	StartHook func()
}

func (r *Recorder) StartCombined(ctx context.Context, audio, video core.Producer, room domain.RoomName, peer domain.PeerID) (string, error) {
	if r.StartErr != nil {
		return "", r.StartErr
	}
	if r.StartHook != nil {
		r.StartHook()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	r.Started = append(r.Started, [2]domain.ProducerID{audio.ID(), video.ID()})
	return fmt.Sprintf("%s-%d", room, r.seq), nil
}

func (r *Recorder) StopCombined(ctx context.Context, audioID, videoID domain.ProducerID) (string, error) {
	if r.StopErr != nil {
		return "", r.StopErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Stopped = append(r.Stopped, [2]domain.ProducerID{audioID, videoID})
	return fmt.Sprintf("/recordings/%s-%s", audioID, videoID), nil
}

// Conn captures frames pushed to one peer.
type Conn struct {
	mu     sync.Mutex
	frames []core.Frame
	Closed bool
}

func (c *Conn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, f)
	return nil
}

func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Closed = true
}

func (c *Conn) Frames() []core.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]core.Frame, len(c.frames))
	copy(out, c.frames)
	return out
}

// Notifier captures fan-out pushes.
type Notifier struct {
	mu           sync.Mutex
	NewProducers []PushEvent
	ClosedPushes []PushEvent
}

type PushEvent struct {
	Peer     domain.PeerID
	Producer domain.ProducerID
}

func (n *Notifier) NewProducer(peer domain.PeerID, producer domain.ProducerID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.NewProducers = append(n.NewProducers, PushEvent{Peer: peer, Producer: producer})
}

func (n *Notifier) ProducerClosed(peer domain.PeerID, producer domain.ProducerID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ClosedPushes = append(n.ClosedPushes, PushEvent{Peer: peer, Producer: producer})
}
