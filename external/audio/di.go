package audio

import (
	"github.com/foxseedlab/kikitori/internal/audio"
	"github.com/foxseedlab/kikitori/internal/config"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.ProvideValue(injector, audio.VoiceSourceFactory(NewVoiceSource))
	do.Provide(injector, func(i do.Injector) (audio.FileSourceFactory, error) {
		c := do.MustInvoke[*config.Config](i)
		return func() (audio.Source, error) {
			return OpenWAVSource(c.AudioWAVPath)
		}, nil
	})
}
