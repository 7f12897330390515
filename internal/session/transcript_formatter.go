package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/foxseedlab/kikitori/internal/publisher"
	"github.com/foxseedlab/kikitori/internal/repository"
	"github.com/foxseedlab/kikitori/internal/transcription"
	"github.com/foxseedlab/kikitori/internal/webhook"
)

const transcriptTimeLayout = "2006-01-02 15:04:05"

type transcriptInfo struct {
	SessionID  string
	GuildID    string
	ChannelID  string
	Engine     string
	StartedAt  time.Time
	EndedAt    time.Time
	StopReason string
	Timezone   string
	Location   *time.Location
}

func speakerLabel(isYou bool) string {
	if isYou {
		return speakerLabelYou
	}
	return speakerLabelThem
}

func speakerKey(isYou bool) string {
	if isYou {
		return publisher.SpeakerYou
	}
	return publisher.SpeakerThem
}

// segmentLine is the chat rendering of one final segment.
func segmentLine(seg transcription.Segment) string {
	return fmt.Sprintf("%s: %s", speakerLabel(seg.IsYou), seg.Text)
}

func transcriptFilename(info transcriptInfo) string {
	return fmt.Sprintf("kikitori-%s-%s.txt", info.StartedAt.In(safeLocation(info.Location)).Format("20060102-150405"), info.SessionID)
}

func buildTranscriptText(info transcriptInfo, segments []repository.TranscriptSegment) []byte {
	loc := safeLocation(info.Location)
	lines := []string{
		fmt.Sprintf("認識エンジン：%s", info.Engine),
		fmt.Sprintf("録音期間：%s ~ %s（%s）", info.StartedAt.In(loc).Format(transcriptTimeLayout), info.EndedAt.In(loc).Format(transcriptTimeLayout), info.Timezone),
		fmt.Sprintf("発言数：%d", len(segments)),
		"",
	}
	for _, seg := range segments {
		elapsed := seg.SpokenAt.Sub(info.StartedAt)
		if elapsed < 0 {
			elapsed = 0
		}
		lines = append(lines, fmt.Sprintf("%s %s: %s", formatElapsedHMS(elapsed), speakerLabel(seg.IsYou), seg.Content))
	}
	return []byte(strings.Join(lines, "\n"))
}

func buildTranscriptWebhookPayload(info transcriptInfo, segments []repository.TranscriptSegment) webhook.TranscriptWebhookPayload {
	loc := safeLocation(info.Location)
	transcriptLines := make([]string, 0, len(segments))
	for _, seg := range segments {
		transcriptLines = append(transcriptLines, fmt.Sprintf("%s: %s", speakerLabel(seg.IsYou), seg.Content))
	}

	durationSeconds := int64(info.EndedAt.Sub(info.StartedAt).Seconds())
	if durationSeconds < 0 {
		durationSeconds = 0
	}

	return webhook.TranscriptWebhookPayload{
		SchemaVersion:      webhook.TranscriptWebhookSchemaVersion,
		SessionID:          info.SessionID,
		Engine:             info.Engine,
		DiscordServerID:    info.GuildID,
		DiscordChannelID:   info.ChannelID,
		StartAt:            info.StartedAt.In(loc).Format(time.RFC3339),
		EndAt:              info.EndedAt.In(loc).Format(time.RFC3339),
		Timezone:           info.Timezone,
		DurationSeconds:    durationSeconds,
		StopReason:         info.StopReason,
		SegmentCount:       len(segments),
		TranscriptSegments: buildTranscriptWebhookSegments(segments, info.EndedAt, loc),
		Transcript:         strings.Join(transcriptLines, "\n"),
	}
}

func buildTranscriptWebhookSegments(segments []repository.TranscriptSegment, sessionEndedAt time.Time, loc *time.Location) []webhook.TranscriptWebhookSegment {
	out := make([]webhook.TranscriptWebhookSegment, 0, len(segments))
	for i, seg := range segments {
		segmentEnd := sessionEndedAt
		if i+1 < len(segments) {
			segmentEnd = segments[i+1].SpokenAt
		}
		if segmentEnd.Before(seg.SpokenAt) {
			segmentEnd = seg.SpokenAt
		}
		out = append(out, webhook.TranscriptWebhookSegment{
			Index:      seg.SegmentIndex,
			StartAt:    seg.SpokenAt.In(loc).Format(time.RFC3339),
			EndAt:      segmentEnd.In(loc).Format(time.RFC3339),
			Speaker:    speakerKey(seg.IsYou),
			SpeakerID:  seg.SpeakerID,
			Transcript: seg.Content,
		})
	}
	return out
}

func formatElapsedHMS(d time.Duration) string {
	total := int64(d / time.Second)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

func safeLocation(loc *time.Location) *time.Location {
	if loc == nil {
		return time.UTC
	}
	return loc
}
