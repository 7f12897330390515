package audio

import (
	"encoding/binary"
	"math"
)

const (
	SampleRate     = 16000
	Channels       = 2
	BytesPerSample = 2
	stereoFrame    = Channels * BytesPerSample
)

// DownmixStereo averages the left and right 16-bit lanes of interleaved
// little-endian PCM into a mono buffer. A trailing partial frame is dropped.
func DownmixStereo(stereo []byte) []byte {
	frames := len(stereo) / stereoFrame
	mono := make([]byte, frames*BytesPerSample)
	for i := 0; i < frames; i++ {
		off := i * stereoFrame
		l := int16(binary.LittleEndian.Uint16(stereo[off:]))
		r := int16(binary.LittleEndian.Uint16(stereo[off+BytesPerSample:]))
		avg := math.Round((float64(l) + float64(r)) / 2)
		binary.LittleEndian.PutUint16(mono[i*BytesPerSample:], uint16(int16(avg)))
	}
	return mono
}

// MonoDurationSeconds reports how much audio a mono 16-bit buffer holds.
func MonoDurationSeconds(mono []byte, sampleRate int) float64 {
	if sampleRate <= 0 {
		return 0
	}
	return float64(len(mono)/BytesPerSample) / float64(sampleRate)
}

// StereoDurationSeconds reports how much audio an interleaved stereo 16-bit buffer holds.
func StereoDurationSeconds(stereo []byte, sampleRate int) float64 {
	if sampleRate <= 0 {
		return 0
	}
	return float64(len(stereo)/stereoFrame) / float64(sampleRate)
}

// StereoBytesFor returns the byte length of d seconds of stereo audio.
func StereoBytesFor(seconds float64, sampleRate int) int {
	return int(seconds*float64(sampleRate)) * stereoFrame
}

// Concat joins chunks into one contiguous buffer.
func Concat(chunks [][]byte) []byte {
	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	out := make([]byte, 0, total)
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}
