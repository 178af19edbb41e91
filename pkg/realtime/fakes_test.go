package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/steveyiyo/voicebridge/pkg/types"
)

type fakeMic struct {
	mu       sync.Mutex
	err      error
	active   int
	maxOpen  int
	captures []*fakeCapture
}

func (m *fakeMic) Open(context.Context, CaptureConstraints) (Capture, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.active++
	if m.active > m.maxOpen {
		m.maxOpen = m.active
	}
	c := &fakeCapture{mic: m, frames: make(chan []float32)}
	m.captures = append(m.captures, c)
	return c, nil
}

func (m *fakeMic) last() *fakeCapture {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.captures[len(m.captures)-1]
}

func (m *fakeMic) stats() (active, maxOpen int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active, m.maxOpen
}

type fakeCapture struct {
	mic    *fakeMic
	frames chan []float32
	once   sync.Once
	closed bool
}

func (c *fakeCapture) Frames() <-chan []float32 { return c.frames }
func (c *fakeCapture) SampleRate() int          { return SessionSampleRate }

func (c *fakeCapture) Close() error {
	c.once.Do(func() {
		c.mic.mu.Lock()
		c.mic.active--
		c.closed = true
		c.mic.mu.Unlock()
		close(c.frames)
	})
	return nil
}

func (c *fakeCapture) isClosed() bool {
	c.mic.mu.Lock()
	defer c.mic.mu.Unlock()
	return c.closed
}

// push blocks until the pump has taken the frame.
func (c *fakeCapture) push(t *testing.T, f []float32) {
	t.Helper()
	select {
	case c.frames <- f:
	case <-time.After(2 * time.Second):
		t.Fatal("capture frame never consumed")
	}
}

type fakeSpeaker struct {
	mu    sync.Mutex
	rates []int
	sinks []*fakeSink
}

func (s *fakeSpeaker) Open(rate int) (Sink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rates = append(s.rates, rate)
	k := &fakeSink{got: make(chan []int16, 16)}
	s.sinks = append(s.sinks, k)
	return k, nil
}

func (s *fakeSpeaker) last() *fakeSink {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sinks[len(s.sinks)-1]
}

type fakeSink struct {
	mu     sync.Mutex
	closed bool
	got    chan []int16
}

func (k *fakeSink) Write(s []int16) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return errors.New("sink closed")
	}
	select {
	case k.got <- s:
	default:
	}
	return nil
}

func (k *fakeSink) Close() error {
	k.mu.Lock()
	k.closed = true
	k.mu.Unlock()
	return nil
}

// recorder collects callbacks in order.
type recorder struct {
	mu       sync.Mutex
	statuses []types.ConnectionStatus
	errs     []string
	speaking []bool
	statusCh chan types.ConnectionStatus
}

func newRecorder() *recorder {
	return &recorder{statusCh: make(chan types.ConnectionStatus, 64)}
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnStatus: func(s types.ConnectionStatus) {
			r.mu.Lock()
			r.statuses = append(r.statuses, s)
			r.mu.Unlock()
			r.statusCh <- s
		},
		OnError: func(msg string) {
			r.mu.Lock()
			r.errs = append(r.errs, msg)
			r.mu.Unlock()
		},
		OnSpeaking: func(v bool) {
			r.mu.Lock()
			r.speaking = append(r.speaking, v)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) errors() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.errs...)
}

func (r *recorder) statusTrace() []types.ConnectionStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.ConnectionStatus(nil), r.statuses...)
}

func (r *recorder) speakingTrace() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.speaking...)
}

func (r *recorder) waitFor(t *testing.T, want types.ConnectionStatus) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case s := <-r.statusCh:
			if s == want {
				return
			}
		case <-deadline:
			t.Fatalf("status %q never reported; trace %v", want, r.statusTrace())
		}
	}
}

func eventually(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
