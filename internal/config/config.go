package config

import (
	"fmt"
	"time"
)

type Config struct {
	Env                        string
	TranscribeEngine           string
	ConnectedProvider          string
	TranscribeLanguage         string
	DeepgramAPIKey             string
	DeepgramModel              string
	DeepgramURL                string
	GoogleCloudProjectID       string
	GoogleCloudCredentialsJSON string
	GoogleCloudSpeechLocation  string
	GoogleCloudSpeechModel     string
	WhisperPath                string
	WhisperModelDir            string
	WhisperModelName           string
	WhisperModelURL            string
	WhisperThreads             int
	EnginePreferencePath       string
	AudioSource                string
	AudioWAVPath               string
	DatabaseURL                string
	RedisURL                   string
	RedisChannelPrefix         string
	DiscordToken               string
	DiscordGuildID             string
	DiscordOwnerUserID         string
	TranscriptTimezone         string
	TranscriptWebhookURL       string
}

const (
	EngineConnected = "connected"
	EngineLocal     = "local"

	ProviderDeepgram = "deepgram"
	ProviderGoogle   = "google"

	AudioSourceVoice = "voice"
	AudioSourceWAV   = "wav"
)

func (c *Config) Validate() error {
	for _, req := range c.requiredFieldChecks() {
		if req.value == "" {
			return fmt.Errorf("%s is required", req.name)
		}
	}
	switch c.TranscribeEngine {
	case EngineConnected, EngineLocal:
	default:
		return fmt.Errorf("TRANSCRIBE_ENGINE must be %q or %q, got %q", EngineConnected, EngineLocal, c.TranscribeEngine)
	}
	switch c.ConnectedProvider {
	case ProviderDeepgram:
		if c.DeepgramAPIKey == "" {
			return fmt.Errorf("DEEPGRAM_API_KEY is required when CONNECTED_PROVIDER=%s", ProviderDeepgram)
		}
	case ProviderGoogle:
		if c.GoogleCloudProjectID == "" || c.GoogleCloudCredentialsJSON == "" {
			return fmt.Errorf("GOOGLE_CLOUD_PROJECT_ID and GOOGLE_CLOUD_CREDENTIALS_JSON are required when CONNECTED_PROVIDER=%s", ProviderGoogle)
		}
	default:
		return fmt.Errorf("CONNECTED_PROVIDER must be %q or %q, got %q", ProviderDeepgram, ProviderGoogle, c.ConnectedProvider)
	}
	switch c.AudioSource {
	case AudioSourceVoice:
		if c.DiscordOwnerUserID == "" {
			return fmt.Errorf("DISCORD_OWNER_USER_ID is required when AUDIO_SOURCE=%s", AudioSourceVoice)
		}
	case AudioSourceWAV:
		if c.AudioWAVPath == "" {
			return fmt.Errorf("AUDIO_WAV_PATH is required when AUDIO_SOURCE=%s", AudioSourceWAV)
		}
	default:
		return fmt.Errorf("AUDIO_SOURCE must be %q or %q, got %q", AudioSourceVoice, AudioSourceWAV, c.AudioSource)
	}
	if c.WhisperThreads < 0 {
		return fmt.Errorf("WHISPER_THREADS must not be negative, got %d", c.WhisperThreads)
	}
	if c.TranscriptTimezone == "" {
		return fmt.Errorf("TRANSCRIPT_TIMEZONE is required")
	}
	if _, err := time.LoadLocation(c.TranscriptTimezone); err != nil {
		return fmt.Errorf("TRANSCRIPT_TIMEZONE is invalid: %w", err)
	}
	return nil
}

type requiredEnvField struct {
	name  string
	value string
}

func (c *Config) requiredFieldChecks() []requiredEnvField {
	return []requiredEnvField{
		{name: "TRANSCRIBE_LANGUAGE", value: c.TranscribeLanguage},
		{name: "WHISPER_MODEL_DIR", value: c.WhisperModelDir},
		{name: "ENGINE_PREFERENCE_PATH", value: c.EnginePreferencePath},
		{name: "DATABASE_URL", value: c.DatabaseURL},
		{name: "REDIS_URL", value: c.RedisURL},
		{name: "DISCORD_TOKEN", value: c.DiscordToken},
		{name: "DISCORD_GUILD_ID", value: c.DiscordGuildID},
		{name: "TRANSCRIPT_TIMEZONE", value: c.TranscriptTimezone},
	}
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}
