package transcription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/foxseedlab/kikitori/internal/audio"
	"github.com/foxseedlab/kikitori/internal/transcriber"
)

// connectedEngine forwards every polled chunk to a persistent recognizer
// stream and attributes the events it sends back.
type connectedEngine struct {
	sessionID         string
	transcriber       transcriber.StreamingTranscriber
	streamConfig      transcriber.StreamConfig
	source            audio.Source
	attributor        *Attributor
	timeline          *Timeline
	emit              func(Segment)
	pollInterval      time.Duration
	keepAliveInterval time.Duration
	now               func() time.Time

	streaming atomic.Bool
	paused    atomic.Bool
	stopped   atomic.Bool

	writer   transcriber.StreamWriter
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once

	// owned by the poll task
	lastKeepAlive time.Time
	sentChunks    int64
}

func (e *connectedEngine) start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.cancel = cancel
	e.done = make(chan struct{})
	e.streaming.Store(true)
	writer, err := e.transcriber.StartStreaming(runCtx, e.streamConfig, e)
	if err != nil {
		e.streaming.Store(false)
		cancel()
		close(e.done)
		return fmt.Errorf("open recognizer stream: %w", err)
	}
	e.writer = writer
	go e.pollLoop(runCtx)
	slog.Info("connected engine started", "session_id", e.sessionID, "sample_rate", e.streamConfig.SampleRate, "channels", e.streamConfig.Channels, "language", e.streamConfig.Language)
	return nil
}

func (e *connectedEngine) pollLoop(ctx context.Context) {
	defer close(e.done)
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Debug("connected poll loop stopped", "session_id", e.sessionID, "sent_chunks", e.sentChunks)
			return
		case <-ticker.C:
			if !e.pollOnce() {
				return
			}
		}
	}
}

// pollOnce forwards whatever the source captured since the last tick. It
// returns false once the stream can no longer carry audio.
func (e *connectedEngine) pollOnce() bool {
	if !e.streaming.Load() {
		return false
	}
	chunks := e.source.GetAudioChunks()
	if e.paused.Load() {
		return e.keepAliveIfDue()
	}
	e.lastKeepAlive = time.Time{}
	for _, chunk := range chunks {
		if len(chunk) == 0 {
			continue
		}
		if err := e.writer.Write(chunk); err != nil {
			slog.Error("failed to write pcm to recognizer stream", "error", err, "session_id", e.sessionID, "pcm_bytes", len(chunk))
			e.fail(err)
			return false
		}
		e.sentChunks++
	}
	return true
}

func (e *connectedEngine) keepAliveIfDue() bool {
	ka, ok := e.writer.(transcriber.KeepAliver)
	if !ok {
		return true
	}
	now := e.now()
	if e.lastKeepAlive.IsZero() {
		e.lastKeepAlive = now
		return true
	}
	if now.Sub(e.lastKeepAlive) < e.keepAliveInterval {
		return true
	}
	e.lastKeepAlive = now
	if err := ka.KeepAlive(); err != nil {
		slog.Error("failed to send keep-alive", "error", err, "session_id", e.sessionID)
		e.fail(err)
		return false
	}
	return true
}

func (e *connectedEngine) OnResult(result transcriber.Result) {
	if e.stopped.Load() {
		return
	}
	text := strings.TrimSpace(result.Transcript)
	if text == "" {
		return
	}
	seg := Segment{
		Text:        text,
		SpeakerID:   result.SpeakerID,
		Channel:     result.ChannelIndex,
		IsFinal:     result.IsFinal,
		SpeechFinal: result.SpeechFinal,
		TimestampMs: e.timeline.AbsoluteMs(math.Max(result.StartSeconds, 0)),
	}
	e.attributor.Attribute(&seg)
	e.emit(seg)
}

func (e *connectedEngine) OnError(err error) {
	if e.stopped.Load() || errors.Is(err, context.Canceled) {
		slog.Debug("recognizer stream closed", "error", err, "session_id", e.sessionID)
		e.fail(err)
		return
	}
	slog.Error("recognizer stream failed", "error", err, "session_id", e.sessionID)
	e.fail(err)
}

// fail marks the stream dead and halts the poll task. The writer is closed
// by stop.
func (e *connectedEngine) fail(error) {
	e.streaming.Store(false)
	if e.cancel != nil {
		e.cancel()
	}
}

func (e *connectedEngine) pause() {
	e.paused.Store(true)
}

func (e *connectedEngine) resume() {
	e.paused.Store(false)
}

func (e *connectedEngine) isStreaming() bool {
	return e.streaming.Load()
}

func (e *connectedEngine) isPaused() bool {
	return e.paused.Load()
}

func (e *connectedEngine) stop() {
	e.stopOnce.Do(func() {
		e.stopped.Store(true)
		e.streaming.Store(false)
		if e.cancel != nil {
			e.cancel()
		}
		if e.done != nil {
			<-e.done
		}
		if e.writer != nil {
			if err := e.writer.Close(); err != nil {
				slog.Warn("failed to close recognizer stream", "error", err, "session_id", e.sessionID)
			}
		}
		slog.Info("connected engine stopped", "session_id", e.sessionID, "sent_chunks", e.sentChunks)
	})
}
