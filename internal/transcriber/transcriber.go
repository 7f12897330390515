package transcriber

import "context"

// StreamConfig is negotiated once when a stream opens and stays fixed for
// the life of the stream.
type StreamConfig struct {
	SessionID      string
	SampleRate     int
	Channels       int
	Language       string
	Diarize        bool
	InterimResults bool
}

// Result is one normalized recognition event from a streaming recognizer.
type Result struct {
	ChannelIndex int
	Transcript   string
	// SpeakerID is the voice-cluster id of the first word that carries one.
	SpeakerID    *int
	IsFinal      bool
	SpeechFinal  bool
	StartSeconds float64
}

type StreamWriter interface {
	Write(pcm []byte) error
	Close() error
}

// KeepAliver is implemented by stream writers whose transport needs
// periodic traffic while no audio is forwarded.
type KeepAliver interface {
	KeepAlive() error
}

type ResultReceiver interface {
	OnResult(result Result)
	// OnError is called once when the stream ends for good.
	OnError(err error)
}

type StreamingTranscriber interface {
	StartStreaming(ctx context.Context, cfg StreamConfig, receiver ResultReceiver) (StreamWriter, error)
}

type SubSegment struct {
	Text string
	// StartSeconds is relative to the start of the recognized window.
	StartSeconds float64
}

type BatchResult struct {
	Segments []SubSegment
	// FullText is set when the recognizer could not segment its output.
	FullText string
}

type BatchTranscriber interface {
	// Ready reports whether the model and runtime are available.
	Ready() bool
	Recognize(ctx context.Context, mono []byte, sampleRate, channels int) (BatchResult, error)
}
