package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	internalconfig "github.com/foxseedlab/kikitori/internal/config"
)

type envConfig struct {
	Env                        string `env:"ENV" envDefault:"production"`
	TranscribeEngine           string `env:"TRANSCRIBE_ENGINE" envDefault:"connected"`
	ConnectedProvider          string `env:"CONNECTED_PROVIDER" envDefault:"deepgram"`
	TranscribeLanguage         string `env:"TRANSCRIBE_LANGUAGE" envDefault:"en"`
	DeepgramAPIKey             string `env:"DEEPGRAM_API_KEY"`
	DeepgramModel              string `env:"DEEPGRAM_MODEL" envDefault:"nova-2"`
	DeepgramURL                string `env:"DEEPGRAM_URL" envDefault:"wss://api.deepgram.com/v1/listen"`
	GoogleCloudProjectID       string `env:"GOOGLE_CLOUD_PROJECT_ID"`
	GoogleCloudCredentialsJSON string `env:"GOOGLE_CLOUD_CREDENTIALS_JSON"`
	GoogleCloudSpeechLocation  string `env:"GOOGLE_CLOUD_SPEECH_LOCATION" envDefault:"global"`
	GoogleCloudSpeechModel     string `env:"GOOGLE_CLOUD_SPEECH_MODEL" envDefault:"long"`
	WhisperPath                string `env:"WHISPER_PATH" envDefault:"whisper-cli"`
	WhisperModelDir            string `env:"WHISPER_MODEL_DIR,required"`
	WhisperModelName           string `env:"WHISPER_MODEL_NAME" envDefault:"ggml-base.en.bin"`
	WhisperModelURL            string `env:"WHISPER_MODEL_URL" envDefault:"https://huggingface.co/ggerganov/whisper.cpp/resolve/main"`
	WhisperThreads             int    `env:"WHISPER_THREADS" envDefault:"0"`
	EnginePreferencePath       string `env:"ENGINE_PREFERENCE_PATH" envDefault:"engine.yaml"`
	AudioSource                string `env:"AUDIO_SOURCE" envDefault:"voice"`
	AudioWAVPath               string `env:"AUDIO_WAV_PATH"`
	DatabaseURL                string `env:"DATABASE_URL,required"`
	RedisURL                   string `env:"REDIS_URL,required"`
	RedisChannelPrefix         string `env:"REDIS_CHANNEL_PREFIX" envDefault:"kikitori"`
	DiscordToken               string `env:"DISCORD_TOKEN,required"`
	DiscordGuildID             string `env:"DISCORD_GUILD_ID,required"`
	DiscordOwnerUserID         string `env:"DISCORD_OWNER_USER_ID"`
	TranscriptTimezone         string `env:"TRANSCRIPT_TIMEZONE" envDefault:"Asia/Tokyo"`
	TranscriptWebhookURL       string `env:"TRANSCRIPT_WEBHOOK_URL"`
}

func Load() (*internalconfig.Config, error) {
	var raw envConfig
	if err := env.Parse(&raw); err != nil {
		return nil, fmt.Errorf("environment variables are invalid or missing: %w", err)
	}

	cfg := &internalconfig.Config{
		Env:                        raw.Env,
		TranscribeEngine:           raw.TranscribeEngine,
		ConnectedProvider:          raw.ConnectedProvider,
		TranscribeLanguage:         raw.TranscribeLanguage,
		DeepgramAPIKey:             raw.DeepgramAPIKey,
		DeepgramModel:              raw.DeepgramModel,
		DeepgramURL:                raw.DeepgramURL,
		GoogleCloudProjectID:       raw.GoogleCloudProjectID,
		GoogleCloudCredentialsJSON: raw.GoogleCloudCredentialsJSON,
		GoogleCloudSpeechLocation:  raw.GoogleCloudSpeechLocation,
		GoogleCloudSpeechModel:     raw.GoogleCloudSpeechModel,
		WhisperPath:                raw.WhisperPath,
		WhisperModelDir:            raw.WhisperModelDir,
		WhisperModelName:           raw.WhisperModelName,
		WhisperModelURL:            raw.WhisperModelURL,
		WhisperThreads:             raw.WhisperThreads,
		EnginePreferencePath:       raw.EnginePreferencePath,
		AudioSource:                raw.AudioSource,
		AudioWAVPath:               raw.AudioWAVPath,
		DatabaseURL:                raw.DatabaseURL,
		RedisURL:                   raw.RedisURL,
		RedisChannelPrefix:         raw.RedisChannelPrefix,
		DiscordToken:               raw.DiscordToken,
		DiscordGuildID:             raw.DiscordGuildID,
		DiscordOwnerUserID:         raw.DiscordOwnerUserID,
		TranscriptTimezone:         raw.TranscriptTimezone,
		TranscriptWebhookURL:       raw.TranscriptWebhookURL,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
