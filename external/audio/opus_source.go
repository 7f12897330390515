//go:build opus

package audio

import (
	"log/slog"
	"sync"

	"github.com/foxseedlab/kikitori/internal/audio"
	"github.com/hraban/opus"
)

// opusVoiceSource decodes each speaker's opus stream at 16 kHz mono and
// feeds the frames into a laneMixer.
type opusVoiceSource struct {
	*laneMixer
	decMu    sync.Mutex
	decoders map[string]*opus.Decoder
}

func NewVoiceSource(ownerUserID string) audio.VoiceSource {
	return &opusVoiceSource{
		laneMixer: newLaneMixer(ownerUserID),
		decoders:  make(map[string]*opus.Decoder),
	}
}

func (s *opusVoiceSource) WriteOpusPacket(userID string, opusData []byte) {
	if len(opusData) == 0 {
		return
	}
	s.decMu.Lock()
	if s.decoders == nil {
		s.decMu.Unlock()
		return
	}
	dec, ok := s.decoders[userID]
	if !ok {
		var err error
		dec, err = opus.NewDecoder(audio.SampleRate, 1)
		if err != nil {
			s.decMu.Unlock()
			slog.Warn("failed to create opus decoder", "user_id", userID, "error", err)
			return
		}
		s.decoders[userID] = dec
	}
	pcm := make([]int16, samplesPerFrame)
	n, err := dec.Decode(opusData, pcm)
	s.decMu.Unlock()
	if err != nil {
		slog.Debug("dropping undecodable opus packet", "user_id", userID, "error", err)
		return
	}
	if n > 0 {
		s.pushFrame(userID, pcm[:n])
	}
}

func (s *opusVoiceSource) Close() {
	s.decMu.Lock()
	s.decoders = nil
	s.decMu.Unlock()
	s.laneMixer.Close()
}
