package transcription

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/foxseedlab/kikitori/internal/audio"
	"github.com/foxseedlab/kikitori/internal/transcriber"
)

var testRecordingStart = time.UnixMilli(1_700_000_000_000)

type mockSource struct {
	mu      sync.Mutex
	pending [][]byte
}

func (m *mockSource) push(chunks ...[]byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, chunks...)
}

func (m *mockSource) GetAudioChunks() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.pending
	m.pending = nil
	return out
}

// stereoChunk returns seconds of stereo audio whose every byte is fill.
func stereoChunk(seconds float64, fill byte) []byte {
	buf := make([]byte, audio.StereoBytesFor(seconds, audio.SampleRate))
	for i := range buf {
		buf[i] = fill
	}
	return buf
}

type mockPreference struct {
	mu     sync.Mutex
	kind   EngineKind
	setErr error
}

func (m *mockPreference) Engine() EngineKind {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.kind
}

func (m *mockPreference) SetEngine(kind EngineKind) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	m.kind = kind
	return nil
}

type mockBatch struct {
	mu      sync.Mutex
	ready   bool
	calls   [][]byte
	results []transcriber.BatchResult
	errs    []error
	// gate, when set, holds every Recognize call until it is closed.
	gate    chan struct{}
	entered chan struct{}
}

func (m *mockBatch) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ready
}

func (m *mockBatch) Recognize(_ context.Context, mono []byte, sampleRate, channels int) (transcriber.BatchResult, error) {
	m.mu.Lock()
	gate, entered := m.gate, m.entered
	m.mu.Unlock()
	if gate != nil {
		if entered != nil {
			entered <- struct{}{}
		}
		<-gate
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if sampleRate != audio.SampleRate || channels != 1 {
		return transcriber.BatchResult{}, transcriber.NewRecognitionError(transcriber.ErrInvalidInput, nil)
	}
	m.calls = append(m.calls, append([]byte(nil), mono...))
	idx := len(m.calls) - 1
	if idx < len(m.errs) && m.errs[idx] != nil {
		return transcriber.BatchResult{}, m.errs[idx]
	}
	if idx < len(m.results) {
		return m.results[idx], nil
	}
	return transcriber.BatchResult{}, nil
}

func (m *mockBatch) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *mockBatch) call(i int) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[i]
}

type mockStreamWriter struct {
	mu         sync.Mutex
	writes     [][]byte
	keepAlives int
	closed     bool
	writeErr   error
}

func (m *mockStreamWriter) Write(pcm []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	m.writes = append(m.writes, pcm)
	return nil
}

func (m *mockStreamWriter) KeepAlive() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keepAlives++
	return nil
}

func (m *mockStreamWriter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockStreamWriter) snapshot() (writes int, keepAlives int, closed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.writes), m.keepAlives, m.closed
}

type mockStreaming struct {
	mu       sync.Mutex
	startErr error
	configs  []transcriber.StreamConfig
	writers  []*mockStreamWriter
	receiver transcriber.ResultReceiver
}

func (m *mockStreaming) StartStreaming(_ context.Context, cfg transcriber.StreamConfig, receiver transcriber.ResultReceiver) (transcriber.StreamWriter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.startErr != nil {
		return nil, m.startErr
	}
	w := &mockStreamWriter{}
	m.configs = append(m.configs, cfg)
	m.writers = append(m.writers, w)
	m.receiver = receiver
	return w, nil
}

func (m *mockStreaming) lastWriter() *mockStreamWriter {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writers[len(m.writers)-1]
}

func (m *mockStreaming) send(result transcriber.Result) {
	m.mu.Lock()
	r := m.receiver
	m.mu.Unlock()
	r.OnResult(result)
}

func (m *mockStreaming) fail(err error) {
	m.mu.Lock()
	r := m.receiver
	m.mu.Unlock()
	r.OnError(err)
}

type collector struct {
	mu   sync.Mutex
	segs []Segment
}

func (c *collector) sink(seg Segment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.segs = append(c.segs, seg)
}

func (c *collector) all() []Segment {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Segment(nil), c.segs...)
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type testRig struct {
	router    *Router
	source    *mockSource
	pref      *mockPreference
	batch     *mockBatch
	streaming *mockStreaming
	sink      *collector
	clock     *fakeClock
}

// newTestRig builds a router whose periodic tasks never fire on their own;
// tests drive them through the engines' single-step methods.
func newTestRig(kind EngineKind) *testRig {
	rig := &testRig{
		source:    &mockSource{},
		pref:      &mockPreference{kind: kind},
		batch:     &mockBatch{ready: true},
		streaming: &mockStreaming{},
		sink:      &collector{},
		clock:     &fakeClock{t: testRecordingStart},
	}
	rig.router = NewRouter(RouterConfig{
		Language:       "en",
		PollInterval:   time.Hour,
		WindowInterval: time.Hour,
	}, rig.pref, rig.streaming, rig.batch)
	rig.router.now = rig.clock.Now
	ids := 0
	rig.router.newID = func() string {
		ids++
		return fmt.Sprintf("session-%d", ids)
	}
	rig.router.BindAudioSource(rig.source)
	rig.router.OnSegment(rig.sink.sink)
	return rig
}

func (rig *testRig) local(t *testing.T) *localEngine {
	t.Helper()
	sess := rig.router.current()
	if sess == nil || sess.local == nil {
		t.Fatal("expected a running local recording")
	}
	return sess.local
}

func (rig *testRig) connected(t *testing.T) *connectedEngine {
	t.Helper()
	sess := rig.router.current()
	if sess == nil || sess.connected == nil {
		t.Fatal("expected a running connected recording")
	}
	return sess.connected
}

var errTransport = errors.New("socket closed by peer")

func intPtr(v int) *int { return &v }

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, message string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(message)
}
