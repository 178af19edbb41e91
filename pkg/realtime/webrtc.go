package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/steveyiyo/voicebridge/internal/audio"
	"github.com/steveyiyo/voicebridge/pkg/types"
)

// EventsChannel is the data channel label the upstream expects.
const EventsChannel = "oai-events"

var (
	ErrTransportFailed = errors.New("WebRTC connection failed")
	ErrNotConnected    = errors.New("realtime: not connected")
)

type WebRTCConfig struct {
	Negotiator SDPExchanger
	Microphone Microphone
	// Speaker may be nil; remote audio is then dropped.
	Speaker    Speaker
	NewPeer    PeerFactory
	ICEServers []string
	Callbacks  Callbacks
	Log        *slog.Logger
}

// WebRTC negotiates through the broker and carries audio as PCMU RTP.
// Persona and voice are bound server-side during negotiation.
type WebRTC struct {
	*state
	cfg WebRTCConfig

	mu   sync.Mutex
	sess *rtcSession
}

func NewWebRTC(cfg WebRTCConfig) *WebRTC {
	if cfg.NewPeer == nil {
		cfg.NewPeer = NewPionPeer
	}
	if cfg.ICEServers == nil {
		cfg.ICEServers = DefaultICEServers
	}
	w := &WebRTC{state: newState(cfg.Callbacks, cfg.Log), cfg: cfg}
	w.cfg.Log = w.log
	return w
}

type rtcSession struct {
	capture Capture
	sink    Sink
	peer    Peer
	dc      DataChannel
	once    sync.Once
}

func (s *rtcSession) release() {
	s.once.Do(func() {
		if s.dc != nil {
			_ = s.dc.Close()
		}
		if s.peer != nil {
			_ = s.peer.Close()
		}
		if s.capture != nil {
			_ = s.capture.Close()
		}
		if s.sink != nil {
			_ = s.sink.Close()
		}
	})
}

// Connect returns once the events channel is open, the attempt fails, or
// ctx ends. A failed attempt leaves the client in error until Disconnect.
func (w *WebRTC) Connect(ctx context.Context, opts ConnectOptions) error {
	w.op.Lock()
	defer w.op.Unlock()
	w.teardown()

	sctx, gen := w.begin()
	cctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(sctx, cancel)
	defer stop()

	sess := &rtcSession{}
	w.mu.Lock()
	w.sess = sess
	w.mu.Unlock()

	if err := w.establish(cctx, sctx, gen, sess, opts); err != nil {
		sess.release()
		if sctx.Err() == nil {
			w.fail(gen, err.Error())
		}
		return err
	}
	return nil
}

func (w *WebRTC) establish(ctx, sctx context.Context, gen uint64, sess *rtcSession, opts ConnectOptions) error {
	var err error
	if sess.capture, sess.sink, err = openMedia(ctx, w.cfg.Microphone, w.cfg.Speaker, PCMURate); err != nil {
		return err
	}
	if sess.peer, err = w.cfg.NewPeer(w.cfg.ICEServers); err != nil {
		return err
	}
	track, err := sess.peer.AddAudioTrack()
	if err != nil {
		return err
	}

	// The channel exists before the offer so it is part of the negotiated session.
	if sess.dc, err = sess.peer.CreateDataChannel(EventsChannel); err != nil {
		return err
	}
	opened := make(chan struct{})
	failed := make(chan struct{})
	var openOnce, failOnce sync.Once
	sess.dc.OnOpen(func() {
		openOnce.Do(func() { close(opened) })
		w.transition(gen, types.StatusConnected)
	})
	sess.dc.OnMessage(func(b []byte) { w.handleEvent(gen, b) })
	sess.dc.OnClose(func() { w.log.Debug("events channel closed") })

	sess.peer.OnStateChange(func(s PeerState) {
		switch s {
		case PeerFailed:
			failOnce.Do(func() { close(failed) })
			w.fail(gen, ErrTransportFailed.Error())
			go sess.release()
		case PeerDisconnected:
			w.log.Debug("peer disconnected; waiting for ICE to recover")
		}
	})
	sink := sess.sink
	sess.peer.OnRemoteAudio(func(payload []byte) {
		if w.current(gen) {
			_ = sink.Write(audio.DecodeUlaw(payload))
		}
	})

	offer, err := sess.peer.CreateOffer(ctx)
	if err != nil {
		return err
	}
	answer, err := w.cfg.Negotiator.Exchange(ctx, offer, opts)
	if err != nil {
		return err
	}
	if err := sess.peer.SetAnswer(answer); err != nil {
		return err
	}
	go w.pump(sctx, sess.capture, track)

	select {
	case <-opened:
		return nil
	case <-failed:
		return ErrTransportFailed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// pump feeds capture frames to the outbound track as 8 kHz μ-law.
func (w *WebRTC) pump(ctx context.Context, c Capture, track AudioTrack) {
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-c.Frames():
			if !ok {
				return
			}
			pcm := audio.FloatToPCM16(audio.Resample(f, c.SampleRate(), PCMURate))
			if len(pcm) == 0 {
				continue
			}
			d := time.Duration(len(pcm)) * time.Second / PCMURate
			if err := track.WriteSample(audio.EncodeUlaw(pcm), d); err != nil {
				w.log.Debug("write audio sample", "err", err)
			}
		}
	}
}

func (w *WebRTC) handleEvent(gen uint64, b []byte) {
	ev, err := DecodeEvent(b)
	if err != nil {
		w.log.Debug("undecodable event", "err", err)
		return
	}
	if u, ok := ev.(UnknownEvent); ok {
		w.log.Debug("unhandled event", "type", u.Type)
		return
	}
	w.apply(gen, Interpret(ev))
}

// Send writes one client event on the events channel.
func (w *WebRTC) Send(v any) error {
	w.mu.Lock()
	sess := w.sess
	w.mu.Unlock()
	if sess == nil || sess.dc == nil || w.Status() != types.StatusConnected {
		return ErrNotConnected
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return sess.dc.Send(b)
}

func (w *WebRTC) Disconnect() {
	w.cancelAttempt()
	w.op.Lock()
	defer w.op.Unlock()
	w.teardown()
}

// teardown must be called with op held.
func (w *WebRTC) teardown() {
	w.cancelAttempt()
	w.mu.Lock()
	sess := w.sess
	w.sess = nil
	w.mu.Unlock()
	if sess != nil {
		sess.release()
	}
	w.end()
}
