package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/ametov/parley/internal/core"
	"github.com/ametov/parley/internal/domain"
)

type recordingKey struct {
	audio domain.ProducerID
	video domain.ProducerID
}

// RecordingManager binds (audio producer, video producer) pairs to external
// recorder jobs. Sessions end on an explicit stop or when either producer
// closes.
type RecordingManager struct {
	mu        sync.Mutex
	recorder  core.Recorder
	producers *ProducerRegistry
	sessions  map[recordingKey]*domain.RecordingSession
}

func NewRecordingManager(recorder core.Recorder, producers *ProducerRegistry) *RecordingManager {
	return &RecordingManager{
		recorder:  recorder,
		producers: producers,
		sessions:  make(map[recordingKey]*domain.RecordingSession),
	}
}

// Start validates the pair and delegates to the recorder. The audio id must
// resolve to an audio producer and the video id to a video producer.
func (m *RecordingManager) Start(ctx context.Context, audioID, videoID domain.ProducerID, room domain.RoomName, requester domain.PeerID) (string, error) {
	audio, err := m.producers.Get(audioID)
	if err != nil {
		return "", err
	}
	video, err := m.producers.Get(videoID)
	if err != nil {
		return "", err
	}
	if audio.Kind != domain.MediaKindAudio || video.Kind != domain.MediaKindVideo {
		return "", fmt.Errorf("recording wants audio+video, got %s+%s: %w", audio.Kind, video.Kind, core.ErrInvalidKind)
	}

	key := recordingKey{audio: audioID, video: videoID}
	m.mu.Lock()
	if _, active := m.sessions[key]; active {
		m.mu.Unlock()
		return "", fmt.Errorf("recording for pair already active: %w", core.ErrInvalidState)
	}
	// Reserve the slot before the recorder call so a concurrent start for
	// the same pair fails fast instead of double-recording.
	m.sessions[key] = nil
	m.mu.Unlock()

	fileName, err := m.recorder.StartCombined(ctx, audio.Handle, video.Handle, room, requester)
	if err != nil {
		m.mu.Lock()
		delete(m.sessions, key)
		m.mu.Unlock()
		return "", fmt.Errorf("start recording: %w", errRecorder(err))
	}

	m.mu.Lock()
	m.sessions[key] = &domain.RecordingSession{
		AudioProducerID: audioID,
		VideoProducerID: videoID,
		RoomName:        room,
		PeerID:          requester,
		FileName:        fileName,
		Active:          true,
	}
	m.mu.Unlock()

	// Either producer may have closed while the recorder call was in flight;
	// its StopByProducer saw only the placeholder and skipped, so re-check
	// here and unwind.
	_, audioErr := m.producers.Get(audioID)
	_, videoErr := m.producers.Get(videoID)
	if audioErr != nil || videoErr != nil {
		m.mu.Lock()
		delete(m.sessions, key)
		m.mu.Unlock()
		if _, err := m.recorder.StopCombined(ctx, audioID, videoID); err != nil {
			log.Debug().Err(err).Str("module", "app.recording").Str("file", fileName).Msg("unwind stop")
		}
		return "", fmt.Errorf("producer closed during recording start: %w", core.ErrNotFound)
	}

	log.Info().Str("module", "app.recording").Str("room", string(room)).Str("file", fileName).Msg("recording started")
	return fileName, nil
}

// Stop ends the session keyed by the same producer pair and returns the
// output file path.
func (m *RecordingManager) Stop(ctx context.Context, audioID, videoID domain.ProducerID) (string, error) {
	key := recordingKey{audio: audioID, video: videoID}
	m.mu.Lock()
	sess, ok := m.sessions[key]
	if !ok || sess == nil {
		m.mu.Unlock()
		return "", fmt.Errorf("recording for pair: %w", core.ErrNotFound)
	}
	delete(m.sessions, key)
	m.mu.Unlock()

	filePath, err := m.recorder.StopCombined(ctx, audioID, videoID)
	if err != nil {
		return "", fmt.Errorf("stop recording: %w", errRecorder(err))
	}
	log.Info().Str("module", "app.recording").Str("file", filePath).Msg("recording stopped")
	return filePath, nil
}

// StopByProducer ends every session the producer participates in. Called when
// a producer closes or its owner disconnects; failures are logged, not
// surfaced, since nobody is waiting for a response.
func (m *RecordingManager) StopByProducer(ctx context.Context, id domain.ProducerID) {
	m.mu.Lock()
	var keys []recordingKey
	for key, sess := range m.sessions {
		// nil is a reserved slot whose recorder job does not exist yet;
		// the in-flight Start re-checks the pair and unwinds it itself.
		if sess != nil && (key.audio == id || key.video == id) {
			keys = append(keys, key)
		}
	}
	m.mu.Unlock()

	for _, key := range keys {
		if _, err := m.Stop(ctx, key.audio, key.video); err != nil {
			log.Warn().Err(err).Str("module", "app.recording").Str("producer", string(id)).Msg("auto-stop failed")
		}
	}
}

// ActiveCount reports the number of running sessions.
func (m *RecordingManager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, sess := range m.sessions {
		if sess != nil {
			n++
		}
	}
	return n
}

func errRecorder(err error) error {
	return fmt.Errorf("%w: %v", core.ErrRecorderFailure, err)
}
