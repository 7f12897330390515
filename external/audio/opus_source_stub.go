//go:build !opus

package audio

import (
	"log/slog"

	"github.com/foxseedlab/kikitori/internal/audio"
)

// stubVoiceSource is used when the binary is built without libopus. It
// accepts packets but never yields audio.
type stubVoiceSource struct {
	*laneMixer
}

func NewVoiceSource(ownerUserID string) audio.VoiceSource {
	slog.Warn("built without opus support, voice audio will be silent")
	return &stubVoiceSource{laneMixer: newLaneMixer(ownerUserID)}
}

func (s *stubVoiceSource) WriteOpusPacket(_ string, _ []byte) {}
