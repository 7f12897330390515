package preference

import (
	"github.com/foxseedlab/kikitori/internal/config"
	"github.com/foxseedlab/kikitori/internal/transcription"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (transcription.Preference, error) {
		c := do.MustInvoke[*config.Config](i)
		fallback, err := transcription.ParseEngineKind(c.TranscribeEngine)
		if err != nil {
			return nil, err
		}
		return NewYAMLStore(c.EnginePreferencePath, fallback), nil
	})
}
