package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/foxseedlab/kikitori/internal/audio"
	"github.com/youpy/go-wav"
)

// WAVSource replays a 16 kHz 16-bit WAV file at real-time pace. Stereo
// files are passed through as-is; mono files land on the ambient lane with
// a silent microphone lane.
type WAVSource struct {
	mu       sync.Mutex
	reader   *wav.Reader
	file     io.Closer
	channels int
	now      func() time.Time
	started  time.Time
	emitted  int
	done     bool
}

func OpenWAVSource(path string) (*WAVSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open wav file: %w", err)
	}
	src, err := newWAVSource(wav.NewReader(f), f, time.Now)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return src, nil
}

func newWAVSource(reader *wav.Reader, file io.Closer, now func() time.Time) (*WAVSource, error) {
	format, err := reader.Format()
	if err != nil {
		return nil, fmt.Errorf("failed to read wav format: %w", err)
	}
	if format.SampleRate != audio.SampleRate || format.BitsPerSample != 16 {
		return nil, fmt.Errorf("unsupported wav format: %d Hz, %d bit", format.SampleRate, format.BitsPerSample)
	}
	if format.NumChannels != 1 && format.NumChannels != 2 {
		return nil, fmt.Errorf("unsupported wav channel count: %d", format.NumChannels)
	}
	return &WAVSource{
		reader:   reader,
		file:     file,
		channels: int(format.NumChannels),
		now:      now,
	}, nil
}

// GetAudioChunks returns the frames that became due since the previous
// call. The clock starts on the first call.
func (s *WAVSource) GetAudioChunks() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return nil
	}
	if s.started.IsZero() {
		s.started = s.now()
	}
	due := int(s.now().Sub(s.started).Seconds()*audio.SampleRate) - s.emitted
	if due <= 0 {
		return nil
	}
	samples, err := s.reader.ReadSamples(uint32(due))
	if err != nil {
		if !errors.Is(err, io.EOF) {
			slog.Warn("failed to read wav samples", "error", err)
		}
		s.finishLocked()
		return nil
	}
	s.emitted += len(samples)
	if len(samples) == 0 {
		return nil
	}
	return [][]byte{s.toStereo(samples)}
}

func (s *WAVSource) toStereo(samples []wav.Sample) []byte {
	out := make([]byte, len(samples)*audio.Channels*audio.BytesPerSample)
	for i, sample := range samples {
		off := i * audio.Channels * audio.BytesPerSample
		binary.LittleEndian.PutUint16(out[off:], uint16(int16(sample.Values[0])))
		if s.channels == 2 {
			binary.LittleEndian.PutUint16(out[off+audio.BytesPerSample:], uint16(int16(sample.Values[1])))
		}
	}
	return out
}

// Finished reports whether the whole file has been replayed.
func (s *WAVSource) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

func (s *WAVSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finishLocked()
}

func (s *WAVSource) finishLocked() error {
	if s.done {
		return nil
	}
	s.done = true
	return s.file.Close()
}
