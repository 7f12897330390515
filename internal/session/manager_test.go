package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
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

type mockRepository struct {
	mu             sync.Mutex
	createCount    int
	created        []repository.CreateSessionInput
	completed      []repository.CompleteSessionInput
	insertCalls    []repository.InsertSegmentInput
	orphan         *repository.Session
	createErr      error
	listSegmentErr error
}

func (m *mockRepository) CreateSession(_ context.Context, input repository.CreateSessionInput) (*repository.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return nil, m.createErr
	}
	m.createCount++
	m.created = append(m.created, input)
	return &repository.Session{
		ID:        fmt.Sprintf("session-%d", m.createCount),
		GuildID:   input.GuildID,
		ChannelID: input.ChannelID,
		Engine:    input.Engine,
		StartedAt: input.StartedAt,
		Status:    repository.SessionStatusRunning,
	}, nil
}

func (m *mockRepository) UpdateSessionCompleted(_ context.Context, input repository.CompleteSessionInput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed = append(m.completed, input)
	return nil
}

func (m *mockRepository) GetRunningSessionByChannel(_ context.Context, _, _ string) (*repository.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	orphan := m.orphan
	m.orphan = nil
	return orphan, nil
}

func (m *mockRepository) InsertSegment(_ context.Context, input repository.InsertSegmentInput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertCalls = append(m.insertCalls, input)
	return nil
}

func (m *mockRepository) ListSegmentsBySessionID(_ context.Context, sessionID string) ([]repository.TranscriptSegment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listSegmentErr != nil {
		return nil, m.listSegmentErr
	}
	var out []repository.TranscriptSegment
	for _, in := range m.insertCalls {
		if in.SessionID != sessionID {
			continue
		}
		out = append(out, repository.TranscriptSegment{
			SessionID:    in.SessionID,
			Content:      in.Content,
			SegmentIndex: in.SegmentIndex,
			SpokenAt:     in.SpokenAt,
			IsYou:        in.IsYou,
			SpeakerID:    in.SpeakerID,
			Channel:      in.Channel,
		})
	}
	return out, nil
}

func (m *mockRepository) completions() []repository.CompleteSessionInput {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]repository.CompleteSessionInput(nil), m.completed...)
}

func (m *mockRepository) inserts() []repository.InsertSegmentInput {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]repository.InsertSegmentInput(nil), m.insertCalls...)
}

type mockDiscordClient struct {
	mu                   sync.Mutex
	sendCalls            []string
	fileCalls            []discord.FileMessage
	userVoiceChannelByID map[string]string
	joinErr              error
	voice                *mockVoiceConnection
}

func (m *mockDiscordClient) Connect(_ context.Context) error { return nil }
func (m *mockDiscordClient) Close() error                    { return nil }
func (m *mockDiscordClient) JoinVoiceChannel(_, _ string) (discord.VoiceConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.joinErr != nil {
		return nil, m.joinErr
	}
	m.voice = &mockVoiceConnection{}
	return m.voice, nil
}
func (m *mockDiscordClient) SendChannelMessage(_ string, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendCalls = append(m.sendCalls, content)
	return nil
}
func (m *mockDiscordClient) SendChannelMessageWithFile(msg discord.FileMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fileCalls = append(m.fileCalls, msg)
	return nil
}
func (m *mockDiscordClient) RegisterVoiceStateUpdateHandler(_ func(discord.VoiceStateEvent)) {}
func (m *mockDiscordClient) RegisterSlashCommandHandler(_ func(discord.SlashCommandEvent))   {}
func (m *mockDiscordClient) UpsertGuildSlashCommands(_ string, _ []discord.SlashCommandDefinition) error {
	return nil
}
func (m *mockDiscordClient) GetUserVoiceChannelID(_, userID string) (string, error) {
	if m.userVoiceChannelByID == nil {
		return "", nil
	}
	return m.userVoiceChannelByID[userID], nil
}
func (m *mockDiscordClient) GetBotUserID() (string, error) { return "bot-self", nil }

func (m *mockDiscordClient) sent() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.sendCalls...)
}

func (m *mockDiscordClient) files() []discord.FileMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]discord.FileMessage(nil), m.fileCalls...)
}

type mockVoiceConnection struct {
	mu           sync.Mutex
	disconnected bool
}

func (m *mockVoiceConnection) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnected = true
	return nil
}
func (m *mockVoiceConnection) ReceiveAudio(_ func(userID string, opus []byte)) {}

func (m *mockVoiceConnection) isDisconnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disconnected
}

type mockVoiceSource struct {
	owner  string
	closed bool
}

func (m *mockVoiceSource) GetAudioChunks() [][]byte       { return nil }
func (m *mockVoiceSource) WriteOpusPacket(string, []byte) {}
func (m *mockVoiceSource) Close()                         { m.closed = true }

type mockFileSource struct {
	mu       sync.Mutex
	finished bool
	closed   bool
}

func (m *mockFileSource) GetAudioChunks() [][]byte { return nil }
func (m *mockFileSource) Finished() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.finished
}
func (m *mockFileSource) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
func (m *mockFileSource) finish() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finished = true
}

type mockPublisher struct {
	mu       sync.Mutex
	segments []publisher.LiveSegment
	statuses []publisher.RecordingStatus
}

func (m *mockPublisher) PublishSegment(_ context.Context, seg publisher.LiveSegment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.segments = append(m.segments, seg)
	return nil
}

func (m *mockPublisher) PublishStatus(_ context.Context, status publisher.RecordingStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = append(m.statuses, status)
	return nil
}

func (m *mockPublisher) states() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.statuses))
	for _, s := range m.statuses {
		out = append(out, s.State)
	}
	return out
}

func (m *mockPublisher) segmentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.segments)
}

type mockWebhookSender struct {
	mu       sync.Mutex
	payloads []webhook.TranscriptWebhookPayload
}

func (m *mockWebhookSender) SendTranscript(_ context.Context, payload webhook.TranscriptWebhookPayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payloads = append(m.payloads, payload)
	return nil
}

func (m *mockWebhookSender) sent() []webhook.TranscriptWebhookPayload {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]webhook.TranscriptWebhookPayload(nil), m.payloads...)
}

type mockModels struct {
	downloaded  bool
	progress    transcriber.DownloadProgress
	downloadErr error
	block       chan struct{}
}

func (m *mockModels) Name() string                           { return "base" }
func (m *mockModels) Downloaded() bool                       { return m.downloaded }
func (m *mockModels) Progress() transcriber.DownloadProgress { return m.progress }
func (m *mockModels) Delete() error                          { return nil }
func (m *mockModels) Download(_ context.Context) error {
	if m.block != nil {
		<-m.block
	}
	return m.downloadErr
}

// fakeRecorder stands in for the router and lets tests push segments
// through the installed sink.
type fakeRecorder struct {
	mu         sync.Mutex
	source     audio.Source
	sink       transcription.Sink
	engine     transcription.EngineKind
	startOK    bool
	running    bool
	streaming  bool
	paused     bool
	setErr     error
	startCount int
	stopCount  int
	// holdDrain, when set, delays the final snapshot until it is closed.
	holdDrain chan struct{}
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{engine: transcription.EngineConnected, startOK: true}
}

func (f *fakeRecorder) BindAudioSource(src audio.Source) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.source = src
}

func (f *fakeRecorder) OnSegment(sink transcription.Sink) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sink = sink
}

func (f *fakeRecorder) Start(_ context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCount++
	if !f.startOK {
		return false
	}
	f.running = true
	f.streaming = true
	return true
}

func (f *fakeRecorder) StopDrained() <-chan transcription.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCount++
	f.running = false
	f.streaming = false
	out := make(chan transcription.Snapshot, 1)
	final := transcription.Snapshot{Engine: f.engine, CumulativeSeconds: 12.5}
	hold := f.holdDrain
	go func() {
		defer close(out)
		if hold != nil {
			<-hold
		}
		out <- final
	}()
	return out
}

func (f *fakeRecorder) Pause() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = true
}

func (f *fakeRecorder) Resume() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = false
}

func (f *fakeRecorder) SetEngine(kind transcription.EngineKind) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return f.setErr
	}
	f.engine = kind
	return nil
}

func (f *fakeRecorder) Engine() transcription.EngineKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.engine
}

func (f *fakeRecorder) IsStreaming() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streaming
}

func (f *fakeRecorder) Snapshot() transcription.Snapshot {
	return transcription.Snapshot{Engine: f.Engine(), CumulativeSeconds: 10}
}

func (f *fakeRecorder) emit(seg transcription.Segment) {
	f.mu.Lock()
	sink := f.sink
	f.mu.Unlock()
	sink(seg)
}

func (f *fakeRecorder) die() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streaming = false
}

func (f *fakeRecorder) isPaused() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.paused
}

type testEnv struct {
	manager   *Manager
	recorder  *fakeRecorder
	repo      *mockRepository
	dc        *mockDiscordClient
	publisher *mockPublisher
	webhook   *mockWebhookSender
	models    *mockModels
	voice     *mockVoiceSource
	file      *mockFileSource
}

func newTestEnv(t *testing.T, audioSource string) *testEnv {
	t.Helper()
	cfg := &config.Config{
		Env:                "test",
		DiscordGuildID:     "guild-1",
		DiscordOwnerUserID: "owner-1",
		AudioSource:        audioSource,
		AudioWAVPath:       "meeting.wav",
		TranscriptTimezone: "Asia/Tokyo",
	}
	env := &testEnv{
		recorder:  newFakeRecorder(),
		repo:      &mockRepository{},
		dc:        &mockDiscordClient{userVoiceChannelByID: map[string]string{"owner-1": "vc-1"}},
		publisher: &mockPublisher{},
		webhook:   &mockWebhookSender{},
		models:    &mockModels{},
		file:      &mockFileSource{},
	}
	env.manager = NewManager(cfg, Deps{
		Recorder:   env.recorder,
		Repository: env.repo,
		Discord:    env.dc,
		Publisher:  env.publisher,
		Webhook:    env.webhook,
		Models:     env.models,
		NewVoiceSource: func(owner string) audio.VoiceSource {
			env.voice = &mockVoiceSource{owner: owner}
			return env.voice
		},
		NewFileSource: func() (audio.Source, error) {
			return env.file, nil
		},
	})
	env.manager.livenessInterval = 5 * time.Millisecond
	env.manager.SetBotUserID("bot-self")
	return env
}

func (e *testEnv) command(name string) string {
	var got string
	e.manager.HandleSlashCommand(discord.SlashCommandEvent{
		GuildID:     "guild-1",
		ChannelID:   "text-1",
		CommandName: name,
		UserID:      "owner-1",
		RespondEphemeral: func(content string) error {
			got = content
			return nil
		},
	})
	return got
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestHandleSlashCommand_IgnoresOtherGuild(t *testing.T) {
	env := newTestEnv(t, config.AudioSourceVoice)
	var got string

	env.manager.HandleSlashCommand(discord.SlashCommandEvent{
		GuildID:     "guild-2",
		CommandName: commandStart,
		UserID:      "owner-1",
		RespondEphemeral: func(content string) error {
			got = content
			return nil
		},
	})

	if got != messageEphemeralWrongGuild {
		t.Fatalf("unexpected response: %q", got)
	}
	if env.repo.createCount != 0 {
		t.Fatalf("expected no recording to be created, got %d", env.repo.createCount)
	}
}

func TestHandleSlashCommand_StartRequiresVC(t *testing.T) {
	env := newTestEnv(t, config.AudioSourceVoice)
	env.dc.userVoiceChannelByID = nil

	if got := env.command(commandStart); got != messageEphemeralJoinVCFirst {
		t.Fatalf("unexpected response: %q", got)
	}
	if env.manager.isRecording() {
		t.Fatal("expected no recording")
	}
}

func TestHandleSlashCommand_StopReturnsNotRunning(t *testing.T) {
	env := newTestEnv(t, config.AudioSourceVoice)

	if got := env.command(commandStop); got != messageEphemeralNotRunning {
		t.Fatalf("unexpected response: %q", got)
	}
}

func TestHandleSlashCommand_UnknownCommand(t *testing.T) {
	env := newTestEnv(t, config.AudioSourceVoice)

	if got := env.command("mojiokoshi"); got != messageEphemeralUnknownCommand {
		t.Fatalf("unexpected response: %q", got)
	}
}

func TestHandleSlashCommand_StartAndStopSuccess(t *testing.T) {
	env := newTestEnv(t, config.AudioSourceVoice)

	if got := env.command(commandStart); got != startEphemeralMessage(transcription.EngineConnected) {
		t.Fatalf("unexpected start response: %q", got)
	}
	if !env.manager.isRecording() {
		t.Fatal("expected running recording after start command")
	}
	if env.voice == nil || env.voice.owner != "owner-1" {
		t.Fatalf("expected voice source routed to the owner, got %+v", env.voice)
	}
	if env.recorder.source != env.voice {
		t.Fatal("expected the voice source to be bound to the recorder")
	}
	if got := env.repo.created[0]; got.ChannelID != "vc-1" || got.Engine != "connected" {
		t.Fatalf("unexpected create input: %+v", got)
	}
	if got := env.command(commandStart); got != messageEphemeralAlreadyRunning {
		t.Fatalf("unexpected second start response: %q", got)
	}

	speaker := 1
	env.recorder.emit(transcription.Segment{Text: "hel", IsYou: true, Channel: 1, TimestampMs: 1000})
	env.recorder.emit(transcription.Segment{Text: "hello", IsYou: true, Channel: 1, IsFinal: true, TimestampMs: 1000})
	env.recorder.emit(transcription.Segment{Text: "hi there", SpeakerID: &speaker, IsFinal: true, TimestampMs: 4000})

	waitUntil(t, time.Second, func() bool { return len(env.repo.inserts()) == 2 }, "expected two final segments to be stored")
	inserts := env.repo.inserts()
	if inserts[0].SegmentIndex != 0 || inserts[1].SegmentIndex != 1 {
		t.Fatalf("unexpected indices: %d, %d", inserts[0].SegmentIndex, inserts[1].SegmentIndex)
	}
	if !inserts[0].IsYou || inserts[0].Channel != 1 || inserts[0].SpokenAt.UnixMilli() != 1000 {
		t.Fatalf("unexpected first insert: %+v", inserts[0])
	}
	if inserts[1].SpeakerID == nil || *inserts[1].SpeakerID != 1 {
		t.Fatalf("unexpected speaker id: %+v", inserts[1])
	}
	waitUntil(t, time.Second, func() bool { return env.publisher.segmentCount() == 3 }, "expected every segment to be published live")

	if got := env.command(commandStop); got != stopEphemeralMessage() {
		t.Fatalf("unexpected stop response: %q", got)
	}
	if env.manager.isRecording() {
		t.Fatal("expected recording to stop after stop command")
	}

	waitUntil(t, time.Second, func() bool { return len(env.webhook.sent()) == 1 }, "expected webhook transcript")
	completed := env.repo.completions()
	if len(completed) != 1 || completed[0].StopReason != stopReasonManualSlash || completed[0].AudioSeconds != 12.5 {
		t.Fatalf("unexpected completion: %+v", completed)
	}
	files := env.dc.files()
	if len(files) != 1 {
		t.Fatalf("expected one transcript attachment, got %d", len(files))
	}
	body := string(files[0].FileBody)
	if !strings.Contains(body, "You: hello") || !strings.Contains(body, "Them: hi there") {
		t.Fatalf("unexpected transcript body: %q", body)
	}
	sent := env.dc.sent()
	if !containsString(sent, "You: hello") || !containsString(sent, stopChannelMessage(stopReasonManualSlash)) {
		t.Fatalf("unexpected channel messages: %+v", sent)
	}
	if containsString(sent, "You: hel") {
		t.Fatal("interim segments must not be posted to the channel")
	}
	if payload := env.webhook.sent()[0]; payload.SegmentCount != 2 || payload.StopReason != stopReasonManualSlash {
		t.Fatalf("unexpected webhook payload: %+v", payload)
	}
	if !env.dc.voice.isDisconnected() || !env.voice.closed {
		t.Fatal("expected voice connection and source to be released")
	}
	if got := env.publisher.states(); len(got) != 2 || got[0] != recordingStateRecording || got[1] != recordingStateStopped {
		t.Fatalf("unexpected published states: %v", got)
	}
}

func TestHandleSlashCommand_StartFailureClosesRecording(t *testing.T) {
	env := newTestEnv(t, config.AudioSourceVoice)
	env.recorder.engine = transcription.EngineLocal
	env.recorder.startOK = false

	if got := env.command(commandStart); got != startFailedMessage(transcription.EngineLocal) {
		t.Fatalf("unexpected response: %q", got)
	}
	if env.manager.isRecording() {
		t.Fatal("expected no recording after refused start")
	}
	completed := env.repo.completions()
	if len(completed) != 1 || completed[0].StopReason != stopReasonStartFailed {
		t.Fatalf("unexpected completion: %+v", completed)
	}
	if !env.dc.voice.isDisconnected() {
		t.Fatal("expected voice connection to be released")
	}
}

func TestHandleSlashCommand_StartClosesOrphanRecording(t *testing.T) {
	env := newTestEnv(t, config.AudioSourceVoice)
	env.repo.orphan = &repository.Session{ID: "orphan-1", Status: repository.SessionStatusRunning}

	if got := env.command(commandStart); got != startEphemeralMessage(transcription.EngineConnected) {
		t.Fatalf("unexpected response: %q", got)
	}
	completed := env.repo.completions()
	if len(completed) != 1 || completed[0].SessionID != "orphan-1" || completed[0].StopReason != stopReasonServerClosed {
		t.Fatalf("expected orphan to be closed, got %+v", completed)
	}
	env.manager.Shutdown()
}

func TestHandleSlashCommand_CreateFailureReleasesVoice(t *testing.T) {
	env := newTestEnv(t, config.AudioSourceVoice)
	env.repo.createErr = errors.New("db down")

	if got := env.command(commandStart); got != messageEphemeralStartFailed {
		t.Fatalf("unexpected response: %q", got)
	}
	if env.recorder.startCount != 0 {
		t.Fatal("recorder must not start without a stored recording")
	}
	if !env.dc.voice.isDisconnected() {
		t.Fatal("expected voice connection to be released")
	}
}

func TestWatch_StopsWhenStreamIsLost(t *testing.T) {
	env := newTestEnv(t, config.AudioSourceVoice)
	env.command(commandStart)

	env.recorder.die()

	waitUntil(t, time.Second, func() bool { return len(env.repo.completions()) == 1 }, "expected recording to be completed")
	if got := env.repo.completions()[0].StopReason; got != stopReasonStreamLost {
		t.Fatalf("unexpected stop reason: %s", got)
	}
	if env.manager.isRecording() {
		t.Fatal("expected recording to be cleared")
	}
}

func TestWatch_StopsWhenFileSourceEnds(t *testing.T) {
	env := newTestEnv(t, config.AudioSourceWAV)
	if got := env.command(commandStart); got != startEphemeralMessage(transcription.EngineConnected) {
		t.Fatalf("unexpected response: %q", got)
	}
	if env.repo.created[0].ChannelID != "text-1" {
		t.Fatalf("expected text channel as recording channel, got %q", env.repo.created[0].ChannelID)
	}

	env.file.finish()

	waitUntil(t, time.Second, func() bool { return len(env.repo.completions()) == 1 }, "expected recording to be completed")
	if got := env.repo.completions()[0].StopReason; got != stopReasonSourceEnded {
		t.Fatalf("unexpected stop reason: %s", got)
	}
	waitUntil(t, time.Second, func() bool { return len(env.webhook.sent()) == 1 }, "expected webhook transcript")
	if !env.file.closed {
		t.Fatal("expected file source to be closed")
	}
}

func TestHandleVoiceStateUpdate_OwnerLeavingStops(t *testing.T) {
	env := newTestEnv(t, config.AudioSourceVoice)
	env.command(commandStart)

	env.manager.HandleVoiceStateUpdate(discord.VoiceStateEvent{GuildID: "guild-1", UserID: "someone", BeforeChannelID: "vc-1"})
	if !env.manager.isRecording() {
		t.Fatal("other participants leaving must not stop the recording")
	}
	env.manager.HandleVoiceStateUpdate(discord.VoiceStateEvent{GuildID: "guild-1", UserID: "owner-1", BeforeChannelID: "vc-1", AfterChannelID: "vc-1"})
	if !env.manager.isRecording() {
		t.Fatal("a state change within the channel must not stop the recording")
	}
	env.manager.HandleVoiceStateUpdate(discord.VoiceStateEvent{GuildID: "guild-1", UserID: "owner-1", BeforeChannelID: "vc-1", AfterChannelID: "vc-2"})

	waitUntil(t, time.Second, func() bool { return len(env.repo.completions()) == 1 }, "expected recording to be completed")
	if got := env.repo.completions()[0].StopReason; got != stopReasonOwnerLeft {
		t.Fatalf("unexpected stop reason: %s", got)
	}
}

func TestHandleVoiceStateUpdate_BotRemovedStops(t *testing.T) {
	env := newTestEnv(t, config.AudioSourceVoice)
	env.command(commandStart)

	env.manager.HandleVoiceStateUpdate(discord.VoiceStateEvent{GuildID: "guild-1", UserID: "bot-self", BeforeChannelID: "vc-1"})

	waitUntil(t, time.Second, func() bool { return len(env.repo.completions()) == 1 }, "expected recording to be completed")
	if got := env.repo.completions()[0].StopReason; got != stopReasonBotRemoved {
		t.Fatalf("unexpected stop reason: %s", got)
	}
}

func TestHandleSlashCommand_PauseAndResume(t *testing.T) {
	env := newTestEnv(t, config.AudioSourceVoice)
	if got := env.command(commandPause); got != messageEphemeralNotRunning {
		t.Fatalf("unexpected pause response without recording: %q", got)
	}
	env.command(commandStart)

	if got := env.command(commandPause); got != messagePaused {
		t.Fatalf("unexpected pause response: %q", got)
	}
	if !env.recorder.isPaused() {
		t.Fatal("expected recorder to be paused")
	}
	if got := env.command(commandResume); got != messageResumed {
		t.Fatalf("unexpected resume response: %q", got)
	}
	if env.recorder.isPaused() {
		t.Fatal("expected recorder to be resumed")
	}
	want := []string{recordingStateRecording, recordingStatePaused, recordingStateRecording}
	if got := env.publisher.states(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected published states: %v", got)
	}
	env.manager.Shutdown()
}

func TestHandleSlashCommand_SwitchEngine(t *testing.T) {
	env := newTestEnv(t, config.AudioSourceVoice)

	if got := env.command(commandEngineLocal); got != engineChangedMessage(transcription.EngineLocal, false) {
		t.Fatalf("unexpected response: %q", got)
	}
	if env.recorder.Engine() != transcription.EngineLocal {
		t.Fatalf("expected local engine, got %s", env.recorder.Engine())
	}

	env.command(commandStart)
	if got := env.command(commandEngineConnected); got != engineChangedMessage(transcription.EngineConnected, true) {
		t.Fatalf("unexpected response while recording: %q", got)
	}

	env.recorder.setErr = errors.New("read-only")
	if got := env.command(commandEngineLocal); got != messageEphemeralEngineFailed {
		t.Fatalf("unexpected response on failure: %q", got)
	}
	env.manager.Shutdown()
}

func TestHandleSlashCommand_Model(t *testing.T) {
	t.Run("ready", func(t *testing.T) {
		env := newTestEnv(t, config.AudioSourceVoice)
		env.models.downloaded = true
		if got := env.command(commandModel); got != modelReadyMessage("base") {
			t.Fatalf("unexpected response: %q", got)
		}
	})

	t.Run("busy", func(t *testing.T) {
		env := newTestEnv(t, config.AudioSourceVoice)
		env.models.progress = transcriber.DownloadProgress{Downloading: true, Percent: 40}
		if got := env.command(commandModel); got != modelBusyMessage("base", env.models.progress) {
			t.Fatalf("unexpected response: %q", got)
		}
	})

	t.Run("starts download", func(t *testing.T) {
		env := newTestEnv(t, config.AudioSourceVoice)
		env.models.block = make(chan struct{})
		defer close(env.models.block)
		if got := env.command(commandModel); got != modelDownloadStartedMessage("base", nil) {
			t.Fatalf("unexpected response: %q", got)
		}
	})

	t.Run("immediate failure", func(t *testing.T) {
		env := newTestEnv(t, config.AudioSourceVoice)
		env.models.downloadErr = errors.New("no space left")
		if got := env.command(commandModel); got != messageEphemeralModelFailed {
			t.Fatalf("unexpected response: %q", got)
		}
	})
}

func TestRecording_DropsSegmentsAfterClose(t *testing.T) {
	rec := &recording{
		repoSession: &repository.Session{ID: "session-1"},
		queue:       make(chan transcription.Segment, 1),
	}
	rec.closeQueue()
	rec.closeQueue()

	rec.enqueue(transcription.Segment{Text: "late", IsFinal: true})

	if _, ok := <-rec.queue; ok {
		t.Fatal("expected closed queue to stay empty")
	}
}

func TestShutdown_FinalizesActiveRecording(t *testing.T) {
	env := newTestEnv(t, config.AudioSourceVoice)
	env.command(commandStart)

	env.manager.Shutdown()

	completed := env.repo.completions()
	if len(completed) != 1 || completed[0].StopReason != stopReasonServerClosed {
		t.Fatalf("unexpected completion: %+v", completed)
	}
	if len(env.webhook.sent()) != 1 {
		t.Fatal("expected transcript to be delivered before shutdown returns")
	}
}

func TestStop_ReleasesVoiceBeforeFinalWindowDrains(t *testing.T) {
	env := newTestEnv(t, config.AudioSourceVoice)
	env.command(commandStart)
	hold := make(chan struct{})
	env.recorder.mu.Lock()
	env.recorder.holdDrain = hold
	env.recorder.mu.Unlock()

	env.command(commandStop)

	if !env.dc.voice.isDisconnected() || !env.voice.closed {
		t.Fatal("expected voice connection and source to be released at stop")
	}
	if got := len(env.repo.completions()); got != 0 {
		t.Fatalf("expected completion to wait for the final window, got %d", got)
	}

	close(hold)
	waitUntil(t, time.Second, func() bool { return len(env.repo.completions()) == 1 }, "expected recording to be completed")
	if got := env.repo.completions()[0].AudioSeconds; got != 12.5 {
		t.Fatalf("expected audio seconds from the drained recording, got %v", got)
	}
}

func TestSlashCommandDefinitions(t *testing.T) {
	defs := SlashCommandDefinitions()
	if len(defs) != 7 {
		t.Fatalf("expected 7 commands, got %d", len(defs))
	}
	for _, def := range defs {
		if !strings.HasPrefix(def.Name, commandStart) || def.Description == "" {
			t.Fatalf("unexpected definition: %+v", def)
		}
	}
}

func containsString(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
