package transcription

import (
	"math"
	"sync"
)

// Timeline places window-relative recognition offsets on the absolute
// recording clock.
type Timeline struct {
	mu               sync.Mutex
	recordingStartMs int64
	cumulative       float64
}

func NewTimeline(recordingStartMs int64) *Timeline {
	return &Timeline{recordingStartMs: recordingStartMs}
}

// Reserve claims the next durationSeconds of audio and returns where that
// span starts. The span is consumed whether or not it is ever recognized.
func (t *Timeline) Reserve(durationSeconds float64) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	start := t.cumulative
	t.cumulative += durationSeconds
	return start
}

func (t *Timeline) CumulativeSeconds() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cumulative
}

func (t *Timeline) RecordingStartMs() int64 {
	return t.recordingStartMs
}

// AbsoluteMs converts seconds since the recording started to epoch milliseconds.
func (t *Timeline) AbsoluteMs(seconds float64) int64 {
	return t.recordingStartMs + int64(math.Round(seconds*1000))
}
