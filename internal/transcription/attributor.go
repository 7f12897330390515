package transcription

import "sync"

const clusterThreshold = 2

// Attributor decides whether a segment was spoken by the local user.
//
// Until two distinct speaker ids have been seen on final segments, the
// microphone lane (channel 1) is "you". Afterwards a segment carrying a
// speaker id is "you" exactly when that id is 0. Cluster 0 is not always the
// local user (the other party may speak first); the rule is a heuristic.
type Attributor struct {
	mu   sync.Mutex
	seen map[int]struct{}
}

func NewAttributor() *Attributor {
	return &Attributor{seen: make(map[int]struct{})}
}

func (a *Attributor) Attribute(seg *Segment) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if seg.IsFinal && seg.SpeakerID != nil {
		a.seen[*seg.SpeakerID] = struct{}{}
	}
	if seg.SpeakerID != nil && len(a.seen) >= clusterThreshold {
		seg.IsYou = *seg.SpeakerID == 0
		return
	}
	seg.IsYou = seg.Channel == 1
}

func (a *Attributor) SeenSpeakers() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.seen)
}
