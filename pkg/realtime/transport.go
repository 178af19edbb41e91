// Package realtime is the client side of a voice session: it negotiates or
// opens the upstream transport, binds local capture and playback, and reports
// connection status, speaking and errors through typed callbacks.
package realtime

import (
	"context"
	"log/slog"
	"sync"

	"github.com/steveyiyo/voicebridge/pkg/types"
)

// Transport is one client session binding. Connect tears down any previous
// session before starting; Disconnect is safe at any time and any number of times.
type Transport interface {
	Connect(ctx context.Context, opts ConnectOptions) error
	Disconnect()
	Status() types.ConnectionStatus
	Speaking() bool
}

type ConnectOptions struct {
	Voice   string
	Persona string
}

// Callbacks are fixed at construction. They run on transport goroutines and
// must not block; they may not call Connect or Disconnect synchronously.
type Callbacks struct {
	OnStatus   func(types.ConnectionStatus)
	OnError    func(string)
	OnSpeaking func(bool)
}

// state is the status machine shared by the bindings. Every attempt gets a
// generation; events tagged with an older generation are dropped.
type state struct {
	cb  Callbacks
	log *slog.Logger

	op sync.Mutex // serializes Connect and Disconnect

	mu       sync.Mutex
	status   types.ConnectionStatus
	speaking bool
	gen      uint64
	abort    context.CancelFunc
}

func newState(cb Callbacks, log *slog.Logger) *state {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &state{cb: cb, log: log, status: types.StatusDisconnected}
}

func (s *state) Status() types.ConnectionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *state) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaking
}

// begin opens a new generation in connecting. The returned context lives
// for the whole session and is canceled by end.
func (s *state) begin() (context.Context, uint64) {
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.abort = cancel
	n := s.set(types.StatusConnecting)
	s.mu.Unlock()
	n.fire(s.cb)
	return ctx, gen
}

// cancelAttempt aborts in-flight work without taking the op lock, so a
// pending Connect can be interrupted by Disconnect.
func (s *state) cancelAttempt() {
	s.mu.Lock()
	if s.abort != nil {
		s.abort()
	}
	s.mu.Unlock()
}

// end invalidates the current generation and settles in disconnected.
func (s *state) end() {
	s.mu.Lock()
	s.gen++
	if s.abort != nil {
		s.abort()
		s.abort = nil
	}
	n := s.set(types.StatusDisconnected)
	s.mu.Unlock()
	n.fire(s.cb)
}

func (s *state) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return gen == s.gen
}

// transition moves gen's session to status. Leaving error needs end.
func (s *state) transition(gen uint64, to types.ConnectionStatus) bool {
	s.mu.Lock()
	if gen != s.gen || s.status == types.StatusError || s.status == to {
		s.mu.Unlock()
		return false
	}
	n := s.set(to)
	s.mu.Unlock()
	n.fire(s.cb)
	return true
}

// fail reports at most one error per attempt.
func (s *state) fail(gen uint64, msg string) {
	s.mu.Lock()
	if gen != s.gen || s.status == types.StatusError {
		s.mu.Unlock()
		return
	}
	n := s.set(types.StatusError)
	n.err = &msg
	s.mu.Unlock()
	s.log.Warn("realtime session failed", "err", msg)
	n.fire(s.cb)
}

// apply delivers an interpreted event signal.
func (s *state) apply(gen uint64, sig Signal) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	var n notice
	if sig.Speaking != nil && s.status == types.StatusConnected && s.speaking != *sig.Speaking {
		s.speaking = *sig.Speaking
		n.speaking = sig.Speaking
	}
	if sig.Error != "" {
		msg := sig.Error
		n.err = &msg
	}
	s.mu.Unlock()
	n.fire(s.cb)
}

// set must be called with mu held.
func (s *state) set(to types.ConnectionStatus) notice {
	var n notice
	if s.status != to {
		s.status = to
		n.status = &to
	}
	if to != types.StatusConnected && s.speaking {
		s.speaking = false
		off := false
		n.speaking = &off
	}
	return n
}

// notice holds the callbacks owed after a change; fired outside the lock.
type notice struct {
	status   *types.ConnectionStatus
	speaking *bool
	err      *string
}

func (n notice) fire(cb Callbacks) {
	if n.speaking != nil && !*n.speaking && cb.OnSpeaking != nil {
		cb.OnSpeaking(false)
	}
	if n.status != nil && cb.OnStatus != nil {
		cb.OnStatus(*n.status)
	}
	if n.err != nil && cb.OnError != nil {
		cb.OnError(*n.err)
	}
	if n.speaking != nil && *n.speaking && cb.OnSpeaking != nil {
		cb.OnSpeaking(true)
	}
}
