package audio

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/youpy/go-wav"
)

func writeTestWAV(t *testing.T, channels uint16, sampleRate uint32, frames int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "meeting.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create wav: %v", err)
	}
	samples := make([]wav.Sample, frames)
	for i := range samples {
		samples[i].Values[0] = 100
		samples[i].Values[1] = -200
	}
	if err := wav.NewWriter(f, uint32(frames), channels, sampleRate, 16).WriteSamples(samples); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close wav: %v", err)
	}
	return path
}

type stepClock struct {
	now time.Time
}

func (c *stepClock) Now() time.Time { return c.now }

func openTestWAV(t *testing.T, path string, clock *stepClock) *WAVSource {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open wav: %v", err)
	}
	src, err := newWAVSource(wav.NewReader(f), f, clock.Now)
	if err != nil {
		_ = f.Close()
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = src.Close() })
	return src
}

func TestWAVSource_PacesStereoAudio(t *testing.T) {
	path := writeTestWAV(t, 2, 16000, 16000)
	clock := &stepClock{now: time.Unix(0, 0)}
	src := openTestWAV(t, path, clock)

	if chunks := src.GetAudioChunks(); len(chunks) != 0 {
		t.Fatal("expected nothing before time passes")
	}
	clock.now = clock.now.Add(250 * time.Millisecond)
	chunks := src.GetAudioChunks()
	if len(chunks) != 1 || len(chunks[0]) != 4000*4 {
		t.Fatalf("expected a quarter second of stereo audio, got %d chunks", len(chunks))
	}
	if l, r := int16(binary.LittleEndian.Uint16(chunks[0])), int16(binary.LittleEndian.Uint16(chunks[0][2:])); l != 100 || r != -200 {
		t.Fatalf("unexpected first frame: %d %d", l, r)
	}

	clock.now = clock.now.Add(2 * time.Second)
	chunks = src.GetAudioChunks()
	if len(chunks) != 1 || len(chunks[0]) != 12000*4 {
		t.Fatalf("expected remaining audio, got %d chunks", len(chunks))
	}
	clock.now = clock.now.Add(time.Second)
	if chunks := src.GetAudioChunks(); len(chunks) != 0 {
		t.Fatal("expected no audio after end of file")
	}
	if !src.Finished() {
		t.Fatal("expected source to be finished")
	}
}

func TestWAVSource_MonoGoesToAmbientLane(t *testing.T) {
	path := writeTestWAV(t, 1, 16000, 1600)
	clock := &stepClock{now: time.Unix(0, 0)}
	src := openTestWAV(t, path, clock)
	src.GetAudioChunks()
	clock.now = clock.now.Add(100 * time.Millisecond)

	chunks := src.GetAudioChunks()
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if l, r := int16(binary.LittleEndian.Uint16(chunks[0])), int16(binary.LittleEndian.Uint16(chunks[0][2:])); l != 100 || r != 0 {
		t.Fatalf("expected mono on lane 0 only, got %d %d", l, r)
	}
}

func TestOpenWAVSource_RejectsOtherSampleRates(t *testing.T) {
	path := writeTestWAV(t, 2, 48000, 480)
	if _, err := OpenWAVSource(path); err == nil {
		t.Fatal("expected error for 48 kHz input")
	}
	if _, err := OpenWAVSource(filepath.Join(t.TempDir(), "missing.wav")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
