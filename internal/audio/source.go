package audio

// Source yields interleaved little-endian 16-bit stereo PCM at SampleRate.
// Lane 0 carries ambient/system audio and lane 1 the local microphone.
// GetAudioChunks must not block; it returns whatever was captured since the
// previous call.
type Source interface {
	GetAudioChunks() [][]byte
}

// VoiceSource is a Source fed with opus packets from a voice connection.
type VoiceSource interface {
	Source
	WriteOpusPacket(userID string, opus []byte)
	Close()
}

// VoiceSourceFactory builds a VoiceSource that routes ownerUserID to the
// microphone lane.
type VoiceSourceFactory func(ownerUserID string) VoiceSource

// FileSourceFactory opens a fresh file-backed Source for one recording.
type FileSourceFactory func() (Source, error)
