package audio

import (
	"encoding/binary"
	"sync"

	"github.com/foxseedlab/kikitori/internal/audio"
)

const (
	frameSizeMs     = 20
	samplesPerFrame = audio.SampleRate * frameSizeMs / 1000
)

const (
	ambientLane = 0
	ownerLane   = 1
)

// laneMixer interleaves decoded mono voice frames into two lanes: the
// owner's frames on lane 1 and everybody else summed on lane 0.
type laneMixer struct {
	mu      sync.Mutex
	ownerID string
	queues  map[string]*frameQueue
	closed  bool
}

type frameQueue struct {
	frames [][]int16
}

func (q *frameQueue) push(frame []int16) {
	q.frames = append(q.frames, frame)
}

func (q *frameQueue) pop() ([]int16, bool) {
	if len(q.frames) == 0 {
		return nil, false
	}
	f := q.frames[0]
	q.frames = q.frames[1:]
	return f, true
}

func (q *frameQueue) hasFrame() bool {
	return len(q.frames) > 0
}

func newLaneMixer(ownerUserID string) *laneMixer {
	return &laneMixer{
		ownerID: ownerUserID,
		queues:  make(map[string]*frameQueue),
	}
}

func (m *laneMixer) pushFrame(userID string, frame []int16) {
	if len(frame) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	q, ok := m.queues[userID]
	if !ok {
		q = &frameQueue{}
		m.queues[userID] = q
	}
	if len(frame) > samplesPerFrame {
		frame = frame[:samplesPerFrame]
	}
	q.push(frame)
}

// GetAudioChunks mixes every queued frame and returns one stereo chunk per
// 20 ms frame slot.
func (m *laneMixer) GetAudioChunks() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	var chunks [][]byte
	for hasQueuedFrames(m.queues) {
		var lanes [audio.Channels][samplesPerFrame]int32
		for userID, q := range m.queues {
			frame, ok := q.pop()
			if !ok {
				continue
			}
			lane := ambientLane
			if userID == m.ownerID {
				lane = ownerLane
			}
			for i, s := range frame {
				lanes[lane][i] += int32(s)
			}
		}
		chunks = append(chunks, interleave(&lanes))
	}
	return chunks
}

func hasQueuedFrames(queues map[string]*frameQueue) bool {
	for _, q := range queues {
		if q.hasFrame() {
			return true
		}
	}
	return false
}

func interleave(lanes *[audio.Channels][samplesPerFrame]int32) []byte {
	out := make([]byte, samplesPerFrame*audio.Channels*audio.BytesPerSample)
	for i := 0; i < samplesPerFrame; i++ {
		for ch := 0; ch < audio.Channels; ch++ {
			off := (i*audio.Channels + ch) * audio.BytesPerSample
			binary.LittleEndian.PutUint16(out[off:], uint16(clampPCM(lanes[ch][i])))
		}
	}
	return out
}

func clampPCM(v int32) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

func (m *laneMixer) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.queues = nil
}
