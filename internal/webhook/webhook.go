package webhook

import "context"

const TranscriptWebhookSchemaVersion = 1

type TranscriptWebhookSegment struct {
	Index      int    `json:"index"`
	StartAt    string `json:"start_at"`
	EndAt      string `json:"end_at"`
	Speaker    string `json:"speaker"`
	SpeakerID  *int   `json:"speaker_id,omitempty"`
	Transcript string `json:"transcript"`
}

type TranscriptWebhookPayload struct {
	SchemaVersion      int                        `json:"schema_version"`
	SessionID          string                     `json:"session_id"`
	Engine             string                     `json:"engine"`
	DiscordServerID    string                     `json:"discord_server_id"`
	DiscordChannelID   string                     `json:"discord_channel_id"`
	StartAt            string                     `json:"start_at"`
	EndAt              string                     `json:"end_at"`
	Timezone           string                     `json:"timezone"`
	DurationSeconds    int64                      `json:"duration_seconds"`
	StopReason         string                     `json:"stop_reason"`
	SegmentCount       int                        `json:"segment_count"`
	TranscriptSegments []TranscriptWebhookSegment `json:"transcript_segments"`
	Transcript         string                     `json:"transcript"`
}

type Sender interface {
	SendTranscript(ctx context.Context, payload TranscriptWebhookPayload) error
}
