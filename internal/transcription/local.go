package transcription

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/foxseedlab/kikitori/internal/audio"
	"github.com/foxseedlab/kikitori/internal/transcriber"
)

const minWindowSeconds = 1.5

// localEngine buffers polled audio and hands fixed windows to a synchronous
// recognizer, mapping the window-relative results onto the timeline.
type localEngine struct {
	sessionID      string
	transcriber    transcriber.BatchTranscriber
	source         audio.Source
	attributor     *Attributor
	timeline       *Timeline
	emit           func(Segment)
	pollInterval   time.Duration
	windowInterval time.Duration

	// ctx outlives stop so that in-flight and flushed windows finish.
	ctx context.Context

	bufMu  sync.Mutex
	buffer [][]byte
	// pauseMark is len(buffer) when the pause began; chunks past it were
	// captured while paused.
	pauseMark int

	streaming atomic.Bool
	paused    atomic.Bool

	fullTextMu   sync.Mutex
	lastFullText string

	stopCh   chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
	flushed  chan struct{}
}

func (e *localEngine) start(ctx context.Context) {
	e.ctx = context.WithoutCancel(ctx)
	e.stopCh = make(chan struct{})
	e.flushed = make(chan struct{})
	e.streaming.Store(true)
	e.wg.Add(2)
	go e.pollLoop()
	go e.triggerLoop()
	slog.Info("local engine started", "session_id", e.sessionID, "window", e.windowInterval)
}

func (e *localEngine) pollLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.pollOnce()
		}
	}
}

func (e *localEngine) triggerLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.windowInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.triggerOnce()
		}
	}
}

// pollOnce keeps buffering while paused; resume decides what to keep.
func (e *localEngine) pollOnce() {
	chunks := e.source.GetAudioChunks()
	if len(chunks) == 0 {
		return
	}
	e.bufMu.Lock()
	defer e.bufMu.Unlock()
	for _, chunk := range chunks {
		if len(chunk) > 0 {
			e.buffer = append(e.buffer, chunk)
		}
	}
}

func (e *localEngine) triggerOnce() {
	if e.paused.Load() {
		return
	}
	block := e.drain()
	if len(block) < audio.StereoBytesFor(minWindowSeconds, audio.SampleRate) {
		if len(block) > 0 {
			slog.Debug("dropping short audio window", "session_id", e.sessionID, "seconds", audio.StereoDurationSeconds(block, audio.SampleRate))
		}
		return
	}
	e.recognize(block)
}

// drain swaps the buffer out and returns its concatenation. While paused
// only the audio captured before the pause is returned.
func (e *localEngine) drain() []byte {
	e.bufMu.Lock()
	chunks := e.buffer
	if e.paused.Load() {
		chunks = chunks[:e.pauseMark]
	}
	e.buffer = nil
	e.bufMu.Unlock()
	return audio.Concat(chunks)
}

func (e *localEngine) recognize(stereo []byte) {
	mono := audio.DownmixStereo(stereo)
	if len(mono) == 0 {
		return
	}
	chunkStart := e.timeline.Reserve(audio.MonoDurationSeconds(mono, audio.SampleRate))

	result, err := e.transcriber.Recognize(e.ctx, mono, audio.SampleRate, 1)
	if err != nil {
		slog.Debug("audio window produced no result", "error", err, "session_id", e.sessionID, "chunk_start", chunkStart)
		return
	}

	if len(result.Segments) > 0 {
		for _, sub := range result.Segments {
			e.emitAt(sub.Text, chunkStart+math.Max(sub.StartSeconds, 0))
		}
		return
	}

	text := strings.TrimSpace(result.FullText)
	if text == "" {
		return
	}
	e.fullTextMu.Lock()
	if text == e.lastFullText {
		e.fullTextMu.Unlock()
		return
	}
	e.lastFullText = text
	e.fullTextMu.Unlock()
	e.emitAt(text, chunkStart)
}

func (e *localEngine) emitAt(text string, seconds float64) {
	seg := Segment{
		Text:        text,
		Channel:     0,
		IsFinal:     true,
		TimestampMs: e.timeline.AbsoluteMs(seconds),
	}
	e.attributor.Attribute(&seg)
	e.emit(seg)
}

func (e *localEngine) pause() {
	e.bufMu.Lock()
	defer e.bufMu.Unlock()
	if e.paused.Load() {
		return
	}
	e.pauseMark = len(e.buffer)
	e.paused.Store(true)
}

// resume drops what was captured while paused and keeps the audio buffered
// before the pause for the next window.
func (e *localEngine) resume() {
	e.bufMu.Lock()
	defer e.bufMu.Unlock()
	if !e.paused.Load() {
		return
	}
	discarded := len(e.buffer) - e.pauseMark
	e.buffer = e.buffer[:e.pauseMark]
	e.pauseMark = 0
	e.paused.Store(false)
	slog.Debug("discarded audio buffered during pause", "session_id", e.sessionID, "chunks", discarded)
}

func (e *localEngine) isStreaming() bool {
	return e.streaming.Load()
}

func (e *localEngine) isPaused() bool {
	return e.paused.Load()
}

// stop halts both tasks, waiting for a window already being recognized, and
// flushes the residual buffer in the background. Audio captured while paused
// is not part of the residual.
func (e *localEngine) stop() {
	e.stopOnce.Do(func() {
		e.streaming.Store(false)
		if e.stopCh == nil {
			return
		}
		close(e.stopCh)
		e.wg.Wait()

		residual := e.drain()
		if len(residual) == 0 {
			close(e.flushed)
			slog.Info("local engine stopped", "session_id", e.sessionID, "flushed_bytes", 0)
			return
		}
		go func() {
			defer close(e.flushed)
			e.recognize(residual)
		}()
		slog.Info("local engine stopped", "session_id", e.sessionID, "flushed_bytes", len(residual))
	})
}
