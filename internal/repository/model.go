package repository

import "time"

type SessionStatus string

const (
	SessionStatusRunning   SessionStatus = "running"
	SessionStatusCompleted SessionStatus = "completed"
)

type Session struct {
	ID           string
	GuildID      string
	ChannelID    string
	Engine       string
	StartedAt    time.Time
	EndedAt      *time.Time
	Status       SessionStatus
	StopReason   string
	AudioSeconds float64
}

// TranscriptSegment is a persisted final segment.
type TranscriptSegment struct {
	ID           string
	SessionID    string
	Content      string
	SegmentIndex int
	SpokenAt     time.Time
	IsYou        bool
	SpeakerID    *int
	Channel      int
	CreatedAt    time.Time
}
