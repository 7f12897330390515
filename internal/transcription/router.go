package transcription

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/foxseedlab/kikitori/internal/audio"
	"github.com/foxseedlab/kikitori/internal/transcriber"
	"github.com/google/uuid"
)

const (
	defaultPollInterval      = 100 * time.Millisecond
	defaultWindowInterval    = 5 * time.Second
	defaultKeepAliveInterval = 5 * time.Second
)

type RouterConfig struct {
	Language          string
	PollInterval      time.Duration
	WindowInterval    time.Duration
	KeepAliveInterval time.Duration
}

// Router is the single entry point for recordings. It owns engine
// selection, the recording lifecycle and the segment sink.
type Router struct {
	cfg       RouterConfig
	pref      Preference
	streaming transcriber.StreamingTranscriber
	batch     transcriber.BatchTranscriber
	now       func() time.Time
	newID     func() string

	mu      sync.Mutex
	source  audio.Source
	sink    Sink
	session *recordingSession
}

// recordingSession holds everything that lives exactly as long as one
// recording. Exactly one of connected and local is set, matching kind.
type recordingSession struct {
	id         string
	kind       EngineKind
	attributor *Attributor
	timeline   *Timeline
	emitter    *emitter
	connected  *connectedEngine
	local      *localEngine
}

type Snapshot struct {
	SessionID         string
	Engine            EngineKind
	Streaming         bool
	Paused            bool
	SeenSpeakers      int
	CumulativeSeconds float64
	RecordingStartMs  int64
}

func NewRouter(cfg RouterConfig, pref Preference, streaming transcriber.StreamingTranscriber, batch transcriber.BatchTranscriber) *Router {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.WindowInterval <= 0 {
		cfg.WindowInterval = defaultWindowInterval
	}
	if cfg.KeepAliveInterval <= 0 {
		cfg.KeepAliveInterval = defaultKeepAliveInterval
	}
	return &Router{
		cfg:       cfg,
		pref:      pref,
		streaming: streaming,
		batch:     batch,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// BindAudioSource sets the source polled by the next recording.
func (r *Router) BindAudioSource(src audio.Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.source = src
}

// OnSegment installs the sink used by recordings started afterwards.
func (r *Router) OnSegment(sink Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sink = sink
}

// Start begins a recording with the preferred engine. It returns false when
// no source is bound or the engine cannot be brought up; it never falls
// back to the other engine.
func (r *Router) Start(ctx context.Context) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session != nil {
		if r.session.isStreaming() {
			return true
		}
		slog.Info("discarding dead recording before restart", "session_id", r.session.id)
		r.session.stop()
		r.session = nil
	}
	if r.source == nil {
		slog.Warn("cannot start recording: no audio source bound")
		return false
	}

	kind := r.pref.Engine()
	startMs := r.now().UnixMilli()
	sess := &recordingSession{
		id:         r.newID(),
		kind:       kind,
		attributor: NewAttributor(),
		timeline:   NewTimeline(startMs),
		emitter:    newEmitter(r.sink, startMs),
	}

	switch kind {
	case EngineConnected:
		if r.streaming == nil {
			slog.Warn("cannot start recording: connected recognizer not configured", "session_id", sess.id)
			return false
		}
		sess.connected = &connectedEngine{
			sessionID:   sess.id,
			transcriber: r.streaming,
			streamConfig: transcriber.StreamConfig{
				SessionID:      sess.id,
				SampleRate:     audio.SampleRate,
				Channels:       audio.Channels,
				Language:       r.cfg.Language,
				Diarize:        true,
				InterimResults: true,
			},
			source:            r.source,
			attributor:        sess.attributor,
			timeline:          sess.timeline,
			emit:              sess.emitter.emit,
			pollInterval:      r.cfg.PollInterval,
			keepAliveInterval: r.cfg.KeepAliveInterval,
			now:               r.now,
		}
		if err := sess.connected.start(ctx); err != nil {
			slog.Error("cannot start recording: connected engine unavailable", "error", err, "session_id", sess.id)
			return false
		}
	case EngineLocal:
		if r.batch == nil || !r.batch.Ready() {
			slog.Warn("cannot start recording: local model not ready", "session_id", sess.id)
			return false
		}
		sess.local = &localEngine{
			sessionID:      sess.id,
			transcriber:    r.batch,
			source:         r.source,
			attributor:     sess.attributor,
			timeline:       sess.timeline,
			emit:           sess.emitter.emit,
			pollInterval:   r.cfg.PollInterval,
			windowInterval: r.cfg.WindowInterval,
		}
		sess.local.start(ctx)
	default:
		slog.Warn("cannot start recording: unknown engine", "engine", string(kind))
		return false
	}

	r.session = sess
	slog.Info("recording started", "session_id", sess.id, "engine", string(kind))
	return true
}

// Stop ends the current recording. It returns once the engine's periodic
// tasks have halted. Calling it without a recording does nothing.
func (r *Router) Stop() {
	r.stop()
}

// StopDrained stops the current recording like Stop. The returned channel
// yields the recording's final snapshot once the last window has reached
// the sink, then closes. Without a recording it yields a zero Snapshot.
func (r *Router) StopDrained() <-chan Snapshot {
	out := make(chan Snapshot, 1)
	sess := r.stop()
	if sess == nil {
		out <- Snapshot{}
		close(out)
		return out
	}
	go func() {
		defer close(out)
		<-sess.drained()
		out <- sess.snapshot()
	}()
	return out
}

func (r *Router) stop() *recordingSession {
	r.mu.Lock()
	sess := r.session
	r.session = nil
	r.mu.Unlock()
	if sess == nil {
		return nil
	}
	sess.stop()
	slog.Info("recording stopped", "session_id", sess.id, "engine", string(sess.kind), "audio_seconds", sess.timeline.CumulativeSeconds())
	return sess
}

func (r *Router) Pause() {
	if sess := r.current(); sess != nil {
		sess.pause()
	}
}

func (r *Router) Resume() {
	if sess := r.current(); sess != nil {
		sess.resume()
	}
}

// SetEngine stores the engine for subsequent recordings. A running
// recording keeps its engine.
func (r *Router) SetEngine(kind EngineKind) error {
	if _, err := ParseEngineKind(string(kind)); err != nil {
		return err
	}
	if err := r.pref.SetEngine(kind); err != nil {
		return fmt.Errorf("persist engine preference: %w", err)
	}
	return nil
}

// Engine returns the engine the next recording will use.
func (r *Router) Engine() EngineKind {
	return r.pref.Engine()
}

// IsStreaming reports the running engine's own liveness.
func (r *Router) IsStreaming() bool {
	sess := r.current()
	return sess != nil && sess.isStreaming()
}

func (r *Router) Snapshot() Snapshot {
	sess := r.current()
	if sess == nil {
		return Snapshot{}
	}
	return sess.snapshot()
}

func (r *Router) current() *recordingSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session
}

func (s *recordingSession) snapshot() Snapshot {
	return Snapshot{
		SessionID:         s.id,
		Engine:            s.kind,
		Streaming:         s.isStreaming(),
		Paused:            s.isPaused(),
		SeenSpeakers:      s.attributor.SeenSpeakers(),
		CumulativeSeconds: s.timeline.CumulativeSeconds(),
		RecordingStartMs:  s.timeline.RecordingStartMs(),
	}
}

func (s *recordingSession) stop() {
	switch s.kind {
	case EngineConnected:
		s.connected.stop()
	case EngineLocal:
		s.local.stop()
	}
}

func (s *recordingSession) pause() {
	switch s.kind {
	case EngineConnected:
		s.connected.pause()
	case EngineLocal:
		s.local.pause()
	}
}

func (s *recordingSession) resume() {
	switch s.kind {
	case EngineConnected:
		s.connected.resume()
	case EngineLocal:
		s.local.resume()
	}
}

func (s *recordingSession) isStreaming() bool {
	switch s.kind {
	case EngineConnected:
		return s.connected.isStreaming()
	case EngineLocal:
		return s.local.isStreaming()
	}
	return false
}

func (s *recordingSession) isPaused() bool {
	switch s.kind {
	case EngineConnected:
		return s.connected.isPaused()
	case EngineLocal:
		return s.local.isPaused()
	}
	return false
}

// drained is closed once nothing more will reach the sink.
func (s *recordingSession) drained() <-chan struct{} {
	if s.kind == EngineLocal {
		return s.local.flushed
	}
	done := make(chan struct{})
	close(done)
	return done
}
