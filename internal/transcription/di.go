package transcription

import (
	"github.com/foxseedlab/kikitori/internal/config"
	"github.com/foxseedlab/kikitori/internal/transcriber"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Router, error) {
		cfg := do.MustInvoke[*config.Config](i)
		pref := do.MustInvoke[Preference](i)
		streaming := do.MustInvoke[transcriber.StreamingTranscriber](i)
		batch := do.MustInvoke[transcriber.BatchTranscriber](i)
		return NewRouter(RouterConfig{Language: cfg.TranscribeLanguage}, pref, streaming, batch), nil
	})
}
