package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	audioimpl "github.com/foxseedlab/kikitori/external/audio"
	configloader "github.com/foxseedlab/kikitori/external/config"
	"github.com/foxseedlab/kikitori/external/discord"
	"github.com/foxseedlab/kikitori/external/preference"
	publisherimpl "github.com/foxseedlab/kikitori/external/publisher"
	repositoryimpl "github.com/foxseedlab/kikitori/external/repository"
	transcriberimpl "github.com/foxseedlab/kikitori/external/transcriber"
	webhookimpl "github.com/foxseedlab/kikitori/external/webhook"
	"github.com/foxseedlab/kikitori/internal/config"
	discordpkg "github.com/foxseedlab/kikitori/internal/discord"
	"github.com/foxseedlab/kikitori/internal/session"
	"github.com/foxseedlab/kikitori/internal/transcription"
	"github.com/samber/do/v2"
)

const discordConnectTimeout = 20 * time.Second

func main() {
	slog.Info("startup: loading configuration")
	cfg := mustLoadConfig()
	initLogger(cfg)
	slog.Info("startup: configuration loaded", "env", cfg.Env, "engine", cfg.TranscribeEngine, "audio_source", cfg.AudioSource)

	slog.Info("startup: building dependency graph")
	injector := setupDI(cfg)

	slog.Info("startup: launching discord bot")
	ok := runBot(cfg, injector)
	injector.Shutdown()
	slog.Info("shutdown complete")
	if !ok {
		os.Exit(1)
	}
}

func mustLoadConfig() *config.Config {
	cfg, err := configloader.Load()
	if err != nil {
		slog.Error("config validation failed", "error", err)
		os.Exit(1)
	}
	return cfg
}

func initLogger(cfg *config.Config) {
	logLevel := slog.LevelInfo
	if cfg.IsDevelopment() {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
}

func setupDI(cfg *config.Config) do.Injector {
	injector := do.New()

	do.ProvideValue(injector, cfg)
	repositoryimpl.RegisterDI(injector)
	audioimpl.RegisterDI(injector)
	discord.RegisterDI(injector)
	transcriberimpl.RegisterDI(injector)
	preference.RegisterDI(injector)
	publisherimpl.RegisterDI(injector)
	webhookimpl.RegisterDI(injector)
	transcription.RegisterDI(injector)
	session.RegisterDI(injector)

	return injector
}

// runBot blocks until a termination signal arrives and finalizes any
// running recording before the gateway is closed.
func runBot(cfg *config.Config, injector do.Injector) bool {
	dc, err := do.Invoke[discordpkg.Client](injector)
	if err != nil {
		slog.Error("failed to resolve discord client", "error", err)
		return false
	}
	manager, err := do.Invoke[*session.Manager](injector)
	if err != nil {
		slog.Error("failed to resolve session manager", "error", err)
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), discordConnectTimeout)
	defer cancel()

	slog.Info("startup: connecting to discord gateway")
	if err := dc.Connect(ctx); err != nil {
		slog.Error("discord connect failed", "error", err)
		return false
	}
	slog.Info("startup: discord connected")
	defer func() {
		if err := dc.Close(); err != nil {
			slog.Error("discord close failed", "error", err)
		}
	}()

	botUserID, err := dc.GetBotUserID()
	if err != nil {
		slog.Error("failed to resolve bot user id", "error", err)
		return false
	}
	manager.SetBotUserID(botUserID)

	defs := session.SlashCommandDefinitions()
	if err := dc.UpsertGuildSlashCommands(cfg.DiscordGuildID, defs); err != nil {
		slog.Error("failed to upsert slash commands", "error", err, "guild_id", cfg.DiscordGuildID)
		return false
	}

	dc.RegisterVoiceStateUpdateHandler(manager.HandleVoiceStateUpdate)
	dc.RegisterSlashCommandHandler(manager.HandleSlashCommand)
	slog.Info("discord handlers registered", "guild_id", cfg.DiscordGuildID, "commands", len(defs))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	slog.Info("shutting down")
	manager.Shutdown()
	return true
}
