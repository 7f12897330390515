package transcriber

import (
	"github.com/foxseedlab/kikitori/internal/config"
	"github.com/foxseedlab/kikitori/internal/transcriber"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (transcriber.StreamingTranscriber, error) {
		c := do.MustInvoke[*config.Config](i)
		if c.ConnectedProvider == config.ProviderGoogle {
			return NewCloudSpeechTranscriber(CloudSpeechConfig{
				ProjectID:       c.GoogleCloudProjectID,
				CredentialsJSON: c.GoogleCloudCredentialsJSON,
				Language:        c.TranscribeLanguage,
				Location:        c.GoogleCloudSpeechLocation,
				Model:           c.GoogleCloudSpeechModel,
			}), nil
		}
		return NewDeepgramTranscriber(DeepgramConfig{
			APIKey:   c.DeepgramAPIKey,
			Model:    c.DeepgramModel,
			URL:      c.DeepgramURL,
			Language: c.TranscribeLanguage,
		}), nil
	})
	do.Provide(injector, func(i do.Injector) (*ModelManager, error) {
		c := do.MustInvoke[*config.Config](i)
		return NewModelManager(c.WhisperModelDir, c.WhisperModelName, c.WhisperModelURL), nil
	})
	do.Provide(injector, func(i do.Injector) (transcriber.ModelStore, error) {
		return do.MustInvoke[*ModelManager](i), nil
	})
	do.Provide(injector, func(i do.Injector) (transcriber.BatchTranscriber, error) {
		c := do.MustInvoke[*config.Config](i)
		models := do.MustInvoke[*ModelManager](i)
		return NewWhisperTranscriber(WhisperConfig{
			Path:     c.WhisperPath,
			Language: c.TranscribeLanguage,
			Threads:  c.WhisperThreads,
		}, models), nil
	})
}
