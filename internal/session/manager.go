package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/foxseedlab/kikitori/internal/audio"
	"github.com/foxseedlab/kikitori/internal/config"
	"github.com/foxseedlab/kikitori/internal/discord"
	"github.com/foxseedlab/kikitori/internal/publisher"
	"github.com/foxseedlab/kikitori/internal/repository"
	"github.com/foxseedlab/kikitori/internal/transcriber"
	"github.com/foxseedlab/kikitori/internal/transcription"
	"github.com/foxseedlab/kikitori/internal/webhook"
)

const (
	stopReasonManualSlash  = "manual_slash"
	stopReasonStreamLost   = "stream_lost"
	stopReasonSourceEnded  = "source_ended"
	stopReasonOwnerLeft    = "owner_left"
	stopReasonBotRemoved   = "bot_removed"
	stopReasonServerClosed = "server_closed"
	stopReasonStartFailed  = "start_failed"
)

const (
	recordingStateRecording = "recording"
	recordingStatePaused    = "paused"
	recordingStateStopped   = "stopped"
)

const (
	defaultLivenessInterval = time.Second
	segmentQueueSize        = 256
	segmentDeliveryTimeout  = 10 * time.Second
	drainTimeout            = 2 * time.Minute
	finalizeTimeout         = 30 * time.Second
)

// Recorder is the control surface of the transcription router.
type Recorder interface {
	BindAudioSource(src audio.Source)
	OnSegment(sink transcription.Sink)
	Start(ctx context.Context) bool
	StopDrained() <-chan transcription.Snapshot
	Pause()
	Resume()
	SetEngine(kind transcription.EngineKind) error
	Engine() transcription.EngineKind
	IsStreaming() bool
	Snapshot() transcription.Snapshot
}

// Manager drives one recording at a time from Discord commands and fans the
// router's segments out to chat, storage and live subscribers.
type Manager struct {
	cfg            *config.Config
	recorder       Recorder
	repo           repository.Repository
	discord        discord.Client
	publisher      publisher.Publisher
	webhook        webhook.Sender
	models         transcriber.ModelStore
	newVoiceSource audio.VoiceSourceFactory
	newFileSource  audio.FileSourceFactory

	loc              *time.Location
	now              func() time.Time
	livenessInterval time.Duration

	// opMu serializes starting and stopping.
	opMu       sync.Mutex
	mu         sync.Mutex
	active     *recording
	botUserID  string
	finalizing sync.WaitGroup
}

type recording struct {
	repoSession    *repository.Session
	engine         transcription.EngineKind
	textChannelID  string
	voiceChannelID string
	voice          discord.VoiceConnection
	source         audio.Source

	queueMu  sync.Mutex
	queue    chan transcription.Segment
	closed   bool
	worked   chan struct{}
	unwatch  chan struct{}
	segIndex int
}

type Deps struct {
	Recorder       Recorder
	Repository     repository.Repository
	Discord        discord.Client
	Publisher      publisher.Publisher
	Webhook        webhook.Sender
	Models         transcriber.ModelStore
	NewVoiceSource audio.VoiceSourceFactory
	NewFileSource  audio.FileSourceFactory
}

func NewManager(cfg *config.Config, deps Deps) *Manager {
	loc, err := time.LoadLocation(cfg.TranscriptTimezone)
	if err != nil {
		slog.Warn("falling back to UTC for transcripts", "timezone", cfg.TranscriptTimezone, "error", err)
		loc = time.UTC
	}
	return &Manager{
		cfg:              cfg,
		recorder:         deps.Recorder,
		repo:             deps.Repository,
		discord:          deps.Discord,
		publisher:        deps.Publisher,
		webhook:          deps.Webhook,
		models:           deps.Models,
		newVoiceSource:   deps.NewVoiceSource,
		newFileSource:    deps.NewFileSource,
		loc:              loc,
		now:              time.Now,
		livenessInterval: defaultLivenessInterval,
	}
}

func (m *Manager) SetBotUserID(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.botUserID = userID
}

func (m *Manager) current() *recording {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

func (m *Manager) isRecording() bool {
	return m.current() != nil
}

// openSource prepares the audio input for a recording started by userID.
// It returns the voice connection when the input is a voice channel.
func (m *Manager) openSource(guildID, userID string) (audio.Source, discord.VoiceConnection, string, string) {
	if m.cfg.AudioSource == config.AudioSourceWAV {
		src, err := m.newFileSource()
		if err != nil {
			slog.Error("failed to open file audio source", "error", err, "path", m.cfg.AudioWAVPath)
			return nil, nil, "", messageEphemeralStartFailed
		}
		return src, nil, "", ""
	}

	channelID, err := m.discord.GetUserVoiceChannelID(guildID, userID)
	if err != nil {
		slog.Error("failed to resolve user voice channel", "error", err, "guild_id", guildID, "user_id", userID)
		return nil, nil, "", messageEphemeralVoiceLookupFailed
	}
	if channelID == "" {
		return nil, nil, "", messageEphemeralJoinVCFirst
	}
	voice, err := m.discord.JoinVoiceChannel(guildID, channelID)
	if err != nil {
		slog.Error("failed to join voice channel", "error", err, "guild_id", guildID, "channel_id", channelID)
		return nil, nil, "", messageEphemeralStartFailed
	}
	src := m.newVoiceSource(m.cfg.DiscordOwnerUserID)
	go voice.ReceiveAudio(src.WriteOpusPacket)
	slog.Info("joined voice channel", "guild_id", guildID, "channel_id", channelID, "owner_user_id", m.cfg.DiscordOwnerUserID)
	return src, voice, channelID, ""
}

// startRecording brings up a recording and returns the ephemeral reply.
func (m *Manager) startRecording(guildID, textChannelID, userID string) string {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if m.isRecording() {
		return messageEphemeralAlreadyRunning
	}
	ctx := context.Background()

	src, voice, voiceChannelID, failure := m.openSource(guildID, userID)
	if failure != "" {
		return failure
	}
	engine := m.recorder.Engine()
	rec := &recording{
		engine:         engine,
		textChannelID:  textChannelID,
		voiceChannelID: voiceChannelID,
		voice:          voice,
		source:         src,
		queue:          make(chan transcription.Segment, segmentQueueSize),
		worked:         make(chan struct{}),
		unwatch:        make(chan struct{}),
	}

	channelKey := voiceChannelID
	if channelKey == "" {
		channelKey = textChannelID
	}
	if err := m.completeOrphan(ctx, guildID, channelKey); err != nil {
		rec.closeSource()
		return messageEphemeralStartFailed
	}
	created, err := m.repo.CreateSession(ctx, repository.CreateSessionInput{
		GuildID:   guildID,
		ChannelID: channelKey,
		Engine:    string(engine),
		StartedAt: m.now(),
	})
	if err != nil {
		slog.Error("failed to create recording in repository", "error", err, "guild_id", guildID, "channel_id", channelKey)
		rec.closeSource()
		return messageEphemeralStartFailed
	}
	rec.repoSession = created
	go m.deliverSegments(rec)

	m.recorder.BindAudioSource(src)
	m.recorder.OnSegment(rec.enqueue)
	if !m.recorder.Start(ctx) {
		slog.Warn("recording refused to start", "session_id", created.ID, "engine", string(engine))
		rec.closeQueue()
		<-rec.worked
		rec.closeSource()
		if err := m.repo.UpdateSessionCompleted(ctx, repository.CompleteSessionInput{
			SessionID:  created.ID,
			EndedAt:    m.now(),
			StopReason: stopReasonStartFailed,
		}); err != nil {
			slog.Error("failed to close refused recording", "error", err, "session_id", created.ID)
		}
		return startFailedMessage(engine)
	}

	m.mu.Lock()
	m.active = rec
	m.mu.Unlock()
	slog.Info("recording activated", "session_id", created.ID, "engine", string(engine), "text_channel_id", textChannelID, "voice_channel_id", voiceChannelID)

	m.publishStatus(rec, recordingStateRecording)
	go m.watch(rec)
	if err := m.discord.SendChannelMessage(textChannelID, startChannelMessage(engine)); err != nil {
		slog.Warn("failed to post start message", "error", err, "session_id", created.ID)
	}
	return startEphemeralMessage(engine)
}

func (m *Manager) completeOrphan(ctx context.Context, guildID, channelID string) error {
	orphan, err := m.repo.GetRunningSessionByChannel(ctx, guildID, channelID)
	if err != nil {
		slog.Error("failed to query running recording", "error", err, "guild_id", guildID, "channel_id", channelID)
		return err
	}
	if orphan == nil {
		return nil
	}
	slog.Warn("found orphan running recording in repository; closing it", "session_id", orphan.ID)
	if err := m.repo.UpdateSessionCompleted(ctx, repository.CompleteSessionInput{
		SessionID:  orphan.ID,
		EndedAt:    m.now(),
		StopReason: stopReasonServerClosed,
	}); err != nil {
		slog.Error("failed to complete orphan recording", "error", err, "session_id", orphan.ID)
		return err
	}
	return nil
}

// watch stops the recording when the engine dies or a file source runs out.
func (m *Manager) watch(rec *recording) {
	ticker := time.NewTicker(m.livenessInterval)
	defer ticker.Stop()
	for {
		select {
		case <-rec.unwatch:
			return
		case <-ticker.C:
			if f, ok := rec.source.(interface{ Finished() bool }); ok && f.Finished() {
				m.stopRecordingIf(rec, stopReasonSourceEnded)
				return
			}
			if !m.recorder.IsStreaming() {
				slog.Warn("recording engine is no longer streaming", "session_id", rec.repoSession.ID)
				m.stopRecordingIf(rec, stopReasonStreamLost)
				return
			}
		}
	}
}

func (m *Manager) stopRecording(reason string) bool {
	return m.stopRecordingIf(nil, reason)
}

// stopRecordingIf stops the active recording. When only is set, a different
// active recording is left alone.
func (m *Manager) stopRecordingIf(only *recording, reason string) bool {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	rec := m.active
	if rec == nil || (only != nil && rec != only) {
		m.mu.Unlock()
		return false
	}
	m.active = nil
	m.mu.Unlock()

	snapshot := m.recorder.Snapshot()
	drained := m.recorder.StopDrained()
	close(rec.unwatch)
	// The router no longer polls, so nothing would drain the source.
	rec.closeSource()
	slog.Info("stopping recording", "session_id", rec.repoSession.ID, "reason", reason, "audio_seconds", snapshot.CumulativeSeconds)

	m.finalizing.Add(1)
	go func() {
		defer m.finalizing.Done()
		m.finalizeRecording(rec, reason, snapshot, drained)
	}()
	return true
}

// finalizeRecording falls back to the snapshot taken at stop when the final
// window does not drain in time.
func (m *Manager) finalizeRecording(rec *recording, reason string, snapshot transcription.Snapshot, drained <-chan transcription.Snapshot) {
	select {
	case final, ok := <-drained:
		if ok {
			snapshot = final
		}
	case <-time.After(drainTimeout):
		slog.Warn("gave up waiting for the final window", "session_id", rec.repoSession.ID)
	}
	rec.closeQueue()
	<-rec.worked

	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()

	endedAt := m.now()
	if err := m.repo.UpdateSessionCompleted(ctx, repository.CompleteSessionInput{
		SessionID:    rec.repoSession.ID,
		EndedAt:      endedAt,
		StopReason:   reason,
		AudioSeconds: snapshot.CumulativeSeconds,
	}); err != nil {
		slog.Error("failed to complete recording", "error", err, "session_id", rec.repoSession.ID)
	}
	m.publishStatus(rec, recordingStateStopped)

	segments, err := m.repo.ListSegmentsBySessionID(ctx, rec.repoSession.ID)
	if err != nil {
		slog.Error("failed to list transcript segments", "error", err, "session_id", rec.repoSession.ID)
		segments = nil
	}
	info := transcriptInfo{
		SessionID:  rec.repoSession.ID,
		GuildID:    rec.repoSession.GuildID,
		ChannelID:  rec.repoSession.ChannelID,
		Engine:     string(rec.engine),
		StartedAt:  rec.repoSession.StartedAt,
		EndedAt:    endedAt,
		StopReason: reason,
		Timezone:   m.cfg.TranscriptTimezone,
		Location:   m.loc,
	}

	if err := m.discord.SendChannelMessage(rec.textChannelID, stopChannelMessage(reason)); err != nil {
		slog.Warn("failed to post stop message", "error", err, "session_id", info.SessionID)
	}
	if err := m.discord.SendChannelMessageWithFile(discord.FileMessage{
		ChannelID: rec.textChannelID,
		Content:   messageAttachmentTitle,
		Filename:  transcriptFilename(info),
		FileBody:  buildTranscriptText(info, segments),
	}); err != nil {
		slog.Error("failed to post transcript attachment", "error", err, "session_id", info.SessionID)
	}
	if err := m.webhook.SendTranscript(ctx, buildTranscriptWebhookPayload(info, segments)); err != nil {
		slog.Error("failed to send webhook transcript", "error", err, "session_id", info.SessionID)
	}
	slog.Info("recording finalized", "session_id", info.SessionID, "segments", len(segments), "reason", reason)
}

// StopAll stops the active recording and waits for every finalization,
// bounded by ctx.
func (m *Manager) StopAll(ctx context.Context, reason string) {
	m.stopRecording(reason)
	done := make(chan struct{})
	go func() {
		m.finalizing.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		slog.Warn("shutdown interrupted pending finalization", "error", ctx.Err())
	}
}

func (m *Manager) pauseRecording() bool {
	rec := m.current()
	if rec == nil {
		return false
	}
	m.recorder.Pause()
	m.publishStatus(rec, recordingStatePaused)
	return true
}

func (m *Manager) resumeRecording() bool {
	rec := m.current()
	if rec == nil {
		return false
	}
	m.recorder.Resume()
	m.publishStatus(rec, recordingStateRecording)
	return true
}

func (m *Manager) publishStatus(rec *recording, state string) {
	ctx, cancel := context.WithTimeout(context.Background(), segmentDeliveryTimeout)
	defer cancel()
	if err := m.publisher.PublishStatus(ctx, publisher.RecordingStatus{
		SessionID: rec.repoSession.ID,
		Engine:    string(rec.engine),
		State:     state,
		UpdatedMs: m.now().UnixMilli(),
	}); err != nil {
		slog.Warn("failed to publish recording status", "error", err, "session_id", rec.repoSession.ID, "state", state)
	}
}

// deliverSegments runs for the lifetime of one recording and handles its
// segments in emission order.
func (m *Manager) deliverSegments(rec *recording) {
	defer close(rec.worked)
	for seg := range rec.queue {
		m.handleSegment(rec, seg)
	}
}

func (m *Manager) handleSegment(rec *recording, seg transcription.Segment) {
	ctx, cancel := context.WithTimeout(context.Background(), segmentDeliveryTimeout)
	defer cancel()
	sessionID := rec.repoSession.ID

	if err := m.publisher.PublishSegment(ctx, publisher.LiveSegment{
		SessionID:   sessionID,
		Text:        seg.Text,
		Speaker:     speakerKey(seg.IsYou),
		SpeakerID:   seg.SpeakerID,
		Channel:     seg.Channel,
		IsFinal:     seg.IsFinal,
		SpeechFinal: seg.SpeechFinal,
		TimestampMs: seg.TimestampMs,
	}); err != nil {
		slog.Warn("failed to publish live segment", "error", err, "session_id", sessionID)
	}
	if !seg.IsFinal {
		return
	}

	idx := rec.segIndex
	rec.segIndex++
	if err := m.repo.InsertSegment(ctx, repository.InsertSegmentInput{
		SessionID:    sessionID,
		Content:      seg.Text,
		SegmentIndex: idx,
		SpokenAt:     time.UnixMilli(seg.TimestampMs),
		IsYou:        seg.IsYou,
		SpeakerID:    seg.SpeakerID,
		Channel:      seg.Channel,
	}); err != nil {
		slog.Error("failed to insert segment", "error", err, "session_id", sessionID)
	}
	if err := m.discord.SendChannelMessage(rec.textChannelID, segmentLine(seg)); err != nil {
		slog.Error("failed to post transcript message", "error", err, "session_id", sessionID)
	}
}

func (r *recording) enqueue(seg transcription.Segment) {
	r.queueMu.Lock()
	defer r.queueMu.Unlock()
	if r.closed {
		slog.Debug("dropping segment after recording closed", "session_id", r.repoSession.ID)
		return
	}
	r.queue <- seg
}

func (r *recording) closeQueue() {
	r.queueMu.Lock()
	defer r.queueMu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	close(r.queue)
}

// closeSource leaves the voice channel before closing the source so no
// packets arrive afterwards.
func (r *recording) closeSource() {
	if r.voice != nil {
		if err := r.voice.Disconnect(); err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("failed to leave voice channel", "error", err, "channel_id", r.voiceChannelID)
		}
	}
	switch src := r.source.(type) {
	case audio.VoiceSource:
		src.Close()
	case io.Closer:
		if err := src.Close(); err != nil {
			slog.Warn("failed to close audio source", "error", err)
		}
	}
}
