package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/foxseedlab/kikitori/internal/discord"
	"github.com/foxseedlab/kikitori/internal/transcriber"
	"github.com/foxseedlab/kikitori/internal/transcription"
)

const (
	commandStart           = "kikitori"
	commandStop            = "kikitori-stop"
	commandPause           = "kikitori-pause"
	commandResume          = "kikitori-resume"
	commandEngineConnected = "kikitori-engine-connected"
	commandEngineLocal     = "kikitori-engine-local"
	commandModel           = "kikitori-model"
)

const shutdownTimeout = 3 * time.Minute

func SlashCommandDefinitions() []discord.SlashCommandDefinition {
	return []discord.SlashCommandDefinition{
		{Name: commandStart, Description: slashCommandStartDescription},
		{Name: commandStop, Description: slashCommandStopDescription},
		{Name: commandPause, Description: slashCommandPauseDescription},
		{Name: commandResume, Description: slashCommandResumeDescription},
		{Name: commandEngineConnected, Description: slashCommandEngineConnectedDescription},
		{Name: commandEngineLocal, Description: slashCommandEngineLocalDescription},
		{Name: commandModel, Description: slashCommandModelDescription},
	}
}

func (m *Manager) HandleSlashCommand(event discord.SlashCommandEvent) {
	slog.Info("slash command received", "command", event.CommandName, "guild_id", event.GuildID, "channel_id", event.ChannelID, "user_id", event.UserID)
	if event.GuildID != m.cfg.DiscordGuildID {
		respond(event, messageEphemeralWrongGuild)
		return
	}

	switch event.CommandName {
	case commandStart:
		respond(event, m.startRecording(event.GuildID, event.ChannelID, event.UserID))
	case commandStop:
		if !m.stopRecording(stopReasonManualSlash) {
			respond(event, messageEphemeralNotRunning)
			return
		}
		respond(event, stopEphemeralMessage())
	case commandPause:
		if !m.pauseRecording() {
			respond(event, messageEphemeralNotRunning)
			return
		}
		respond(event, messagePaused)
	case commandResume:
		if !m.resumeRecording() {
			respond(event, messageEphemeralNotRunning)
			return
		}
		respond(event, messageResumed)
	case commandEngineConnected:
		respond(event, m.switchEngine(transcription.EngineConnected))
	case commandEngineLocal:
		respond(event, m.switchEngine(transcription.EngineLocal))
	case commandModel:
		respond(event, m.ensureModel())
	default:
		respond(event, messageEphemeralUnknownCommand)
	}
}

func respond(event discord.SlashCommandEvent, content string) {
	if event.RespondEphemeral == nil {
		return
	}
	if err := event.RespondEphemeral(content); err != nil {
		slog.Error("failed to respond to slash command", "error", err, "command", event.CommandName)
	}
}

func (m *Manager) switchEngine(kind transcription.EngineKind) string {
	if err := m.recorder.SetEngine(kind); err != nil {
		slog.Error("failed to persist engine preference", "error", err, "engine", string(kind))
		return messageEphemeralEngineFailed
	}
	return engineChangedMessage(kind, m.isRecording())
}

// ensureModel reports on the local model and kicks off a background
// download when it is missing.
func (m *Manager) ensureModel() string {
	name := m.models.Name()
	if m.models.Downloaded() {
		return modelReadyMessage(name)
	}
	progress := m.models.Progress()
	if progress.Downloading {
		return modelBusyMessage(name, progress)
	}

	started := make(chan error, 1)
	go func() {
		err := m.models.Download(context.Background())
		select {
		case started <- err:
		default:
		}
		if err != nil && !errors.Is(err, transcriber.ErrDownloadInProgress) {
			slog.Error("model download failed", "error", err, "model", name)
			return
		}
		if err == nil {
			slog.Info("model download finished", "model", name)
		}
	}()

	// A download that fails immediately is reported right away.
	select {
	case err := <-started:
		if errors.Is(err, transcriber.ErrDownloadInProgress) {
			return modelBusyMessage(name, m.models.Progress())
		}
		if err != nil {
			slog.Error("model download could not start", "error", err, "model", name)
			return messageEphemeralModelFailed
		}
		return modelReadyMessage(name)
	case <-time.After(100 * time.Millisecond):
		return modelDownloadStartedMessage(name, progress.Err)
	}
}

func (m *Manager) HandleVoiceStateUpdate(event discord.VoiceStateEvent) {
	if event.GuildID != m.cfg.DiscordGuildID {
		return
	}
	rec := m.current()
	if rec == nil || rec.voiceChannelID == "" {
		return
	}
	if event.BeforeChannelID != rec.voiceChannelID || event.AfterChannelID == rec.voiceChannelID {
		return
	}

	m.mu.Lock()
	botUserID := m.botUserID
	m.mu.Unlock()

	switch event.UserID {
	case botUserID:
		slog.Info("bot left the recording channel", "channel_id", rec.voiceChannelID)
		m.stopRecordingIf(rec, stopReasonBotRemoved)
	case m.cfg.DiscordOwnerUserID:
		slog.Info("owner left the recording channel", "channel_id", rec.voiceChannelID, "user_id", event.UserID)
		m.stopRecordingIf(rec, stopReasonOwnerLeft)
	}
}

// Shutdown stops any running recording and waits for its transcript to be
// delivered.
func (m *Manager) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	m.StopAll(ctx, stopReasonServerClosed)
}
