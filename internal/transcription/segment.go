package transcription

import (
	"fmt"
	"strings"
	"sync"
)

type EngineKind string

const (
	EngineConnected EngineKind = "connected"
	EngineLocal     EngineKind = "local"
)

func ParseEngineKind(s string) (EngineKind, error) {
	switch EngineKind(strings.ToLower(strings.TrimSpace(s))) {
	case EngineConnected:
		return EngineConnected, nil
	case EngineLocal:
		return EngineLocal, nil
	default:
		return "", fmt.Errorf("unknown transcription engine %q", s)
	}
}

// Segment is one attributed piece of recognized speech.
type Segment struct {
	Text string
	// SpeakerID is the recognizer's voice-cluster id, nil when unavailable.
	SpeakerID *int
	// Channel is 0 for ambient/system audio and 1 for the local microphone.
	Channel     int
	IsYou       bool
	IsFinal     bool
	SpeechFinal bool
	TimestampMs int64
}

// Sink receives every emitted segment, in emission order.
type Sink func(Segment)

// Preference stores the engine used by subsequent recordings.
type Preference interface {
	Engine() EngineKind
	SetEngine(kind EngineKind) error
}

// emitter serializes delivery to the sink for one recording. It drops blank
// segments and keeps timestamps non-decreasing.
type emitter struct {
	mu     sync.Mutex
	sink   Sink
	lastMs int64
}

func newEmitter(sink Sink, startMs int64) *emitter {
	return &emitter{sink: sink, lastMs: startMs}
}

func (e *emitter) emit(seg Segment) {
	seg.Text = strings.TrimSpace(seg.Text)
	if seg.Text == "" {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if seg.TimestampMs < e.lastMs {
		seg.TimestampMs = e.lastMs
	}
	e.lastMs = seg.TimestampMs
	if e.sink != nil {
		e.sink(seg)
	}
}
