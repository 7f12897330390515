package publisher

import "context"

const (
	SpeakerYou  = "you"
	SpeakerThem = "them"
)

// LiveSegment is what live consumers receive for every emitted segment,
// partial ones included.
type LiveSegment struct {
	SessionID   string `json:"session_id"`
	Text        string `json:"text"`
	Speaker     string `json:"speaker"`
	SpeakerID   *int   `json:"speaker_id,omitempty"`
	Channel     int    `json:"channel"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`
	TimestampMs int64  `json:"timestamp_ms"`
}

// RecordingStatus is the latest known state of a recording.
type RecordingStatus struct {
	SessionID string
	Engine    string
	State     string
	UpdatedMs int64
}

type Publisher interface {
	PublishSegment(ctx context.Context, seg LiveSegment) error
	PublishStatus(ctx context.Context, status RecordingStatus) error
}
