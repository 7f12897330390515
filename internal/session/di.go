package session

import (
	"github.com/foxseedlab/kikitori/internal/audio"
	"github.com/foxseedlab/kikitori/internal/config"
	"github.com/foxseedlab/kikitori/internal/discord"
	"github.com/foxseedlab/kikitori/internal/publisher"
	"github.com/foxseedlab/kikitori/internal/repository"
	"github.com/foxseedlab/kikitori/internal/transcriber"
	"github.com/foxseedlab/kikitori/internal/transcription"
	"github.com/foxseedlab/kikitori/internal/webhook"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Manager, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return NewManager(cfg, Deps{
			Recorder:       do.MustInvoke[*transcription.Router](i),
			Repository:     do.MustInvoke[repository.Repository](i),
			Discord:        do.MustInvoke[discord.Client](i),
			Publisher:      do.MustInvoke[publisher.Publisher](i),
			Webhook:        do.MustInvoke[webhook.Sender](i),
			Models:         do.MustInvoke[transcriber.ModelStore](i),
			NewVoiceSource: do.MustInvoke[audio.VoiceSourceFactory](i),
			NewFileSource:  do.MustInvoke[audio.FileSourceFactory](i),
		}), nil
	})
}
