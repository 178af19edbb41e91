package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/steveyiyo/voicebridge/internal/audio"
	"github.com/steveyiyo/voicebridge/internal/persona"
	"github.com/steveyiyo/voicebridge/pkg/types"

	"github.com/gorilla/websocket"
)

var ErrReconnectExhausted = errors.New("realtime: reconnect attempts exhausted")

const (
	defaultReconnects     = 3
	defaultReconnectDelay = time.Second
	wsWriteWait           = 5 * time.Second
)

type WebSocketConfig struct {
	// URL is the upstream realtime endpoint when Credentials is set, and the
	// broker's /v1/stream relay otherwise.
	URL         string
	Credentials CredentialSource
	Microphone  Microphone
	Speaker     Speaker
	Dialer      *websocket.Dialer

	MaxReconnects  int
	ReconnectDelay time.Duration

	Callbacks Callbacks
	Log       *slog.Logger
}

// WebSocket streams base64 PCM16 over one socket and lets server VAD drive turns.
type WebSocket struct {
	*state
	cfg       WebSocketConfig
	recording atomic.Bool

	mu   sync.Mutex
	sess *wsSession
}

func NewWebSocket(cfg WebSocketConfig) *WebSocket {
	if cfg.Dialer == nil {
		cfg.Dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	if cfg.MaxReconnects <= 0 {
		cfg.MaxReconnects = defaultReconnects
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	w := &WebSocket{state: newState(cfg.Callbacks, cfg.Log), cfg: cfg}
	w.recording.Store(true)
	return w
}

// SetRecording mutes or unmutes capture without touching the connection.
func (w *WebSocket) SetRecording(on bool) { w.recording.Store(on) }

func (w *WebSocket) Recording() bool { return w.recording.Load() }

type wsSession struct {
	gen    uint64
	opts   ConnectOptions
	params persona.Params

	capture Capture
	sink    Sink

	mu       sync.Mutex
	conn     *wsConn
	released bool
	once     sync.Once
}

func (s *wsSession) current() *wsConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// setConn reports false once the session is released; the caller owns c then.
func (s *wsSession) setConn(c *wsConn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return false
	}
	s.conn = c
	return true
}

func (s *wsSession) release() {
	s.once.Do(func() {
		s.mu.Lock()
		c := s.conn
		s.conn = nil
		s.released = true
		s.mu.Unlock()
		if c != nil {
			c.close()
		}
		if s.capture != nil {
			_ = s.capture.Close()
		}
		if s.sink != nil {
			_ = s.sink.Close()
		}
	})
}

type wsConn struct {
	c  *websocket.Conn
	mu sync.Mutex
}

func (c *wsConn) send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.c.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.c.WriteJSON(v)
}

func (c *wsConn) close() {
	c.mu.Lock()
	_ = c.c.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.mu.Unlock()
	_ = c.c.Close()
}

type sessionUpdate struct {
	Type    string        `json:"type"`
	Session sessionConfig `json:"session"`
}

type sessionConfig struct {
	Modalities              []string      `json:"modalities"`
	Voice                   types.VoiceID `json:"voice"`
	Instructions            string        `json:"instructions,omitempty"`
	InputAudioFormat        string        `json:"input_audio_format"`
	OutputAudioFormat       string        `json:"output_audio_format"`
	InputAudioTranscription transcription `json:"input_audio_transcription"`
	TurnDetection           turnDetection `json:"turn_detection"`
	Tools                   []any         `json:"tools"`
	ToolChoice              string        `json:"tool_choice"`
	Temperature             float64       `json:"temperature"`
	MaxResponseOutputTokens int           `json:"max_response_output_tokens"`
}

type transcription struct {
	Model string `json:"model"`
}

type turnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms"`
	SilenceDurationMs int     `json:"silence_duration_ms"`
}

// SessionUpdate is the full session contract sent once per connection.
func SessionUpdate(p persona.Params) any {
	return sessionUpdate{
		Type: "session.update",
		Session: sessionConfig{
			Modalities:              []string{"text", "audio"},
			Voice:                   p.Voice,
			Instructions:            p.Instructions,
			InputAudioFormat:        "pcm16",
			OutputAudioFormat:       "pcm16",
			InputAudioTranscription: transcription{Model: "whisper-1"},
			TurnDetection: turnDetection{
				Type:              "server_vad",
				Threshold:         0.5,
				PrefixPaddingMs:   300,
				SilenceDurationMs: 500,
			},
			Tools:                   []any{},
			ToolChoice:              "auto",
			Temperature:             0.8,
			MaxResponseOutputTokens: 4096,
		},
	}
}

type appendEvent struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

type bareEvent struct {
	Type string `json:"type"`
}

// Connect returns once the socket is open and configured.
func (w *WebSocket) Connect(ctx context.Context, opts ConnectOptions) error {
	w.op.Lock()
	defer w.op.Unlock()
	w.teardown()

	sctx, gen := w.begin()
	cctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(sctx, cancel)
	defer stop()

	sess := &wsSession{
		gen:    gen,
		opts:   opts,
		params: persona.Bind(persona.Resolve(opts.Persona), opts.Voice, ""),
	}
	w.mu.Lock()
	w.sess = sess
	w.mu.Unlock()

	conn, err := w.establish(cctx, sess)
	if err != nil {
		sess.release()
		if sctx.Err() == nil {
			w.fail(gen, err.Error())
		}
		return err
	}
	if !sess.setConn(conn) {
		conn.close()
		return ErrNotConnected
	}
	w.transition(gen, types.StatusConnected)

	go w.pump(sctx, sess)
	go w.run(sctx, sess, conn)
	return nil
}

func (w *WebSocket) establish(ctx context.Context, sess *wsSession) (*wsConn, error) {
	var err error
	if sess.capture, sess.sink, err = openMedia(ctx, w.cfg.Microphone, w.cfg.Speaker, SessionSampleRate); err != nil {
		return nil, err
	}
	return w.dial(ctx, sess)
}

// dial opens one socket. Direct mode fetches a fresh credential every time
// and sends the session contract itself.
func (w *WebSocket) dial(ctx context.Context, sess *wsSession) (*wsConn, error) {
	target := w.cfg.URL
	header := http.Header{}
	if w.cfg.Credentials != nil {
		cred, err := w.cfg.Credentials.Credential(ctx, sess.opts)
		if err != nil {
			return nil, err
		}
		header.Set("Authorization", "Bearer "+cred.Token)
		header.Set("OpenAI-Beta", "realtime=v1")
	} else {
		u, err := url.Parse(target)
		if err != nil {
			return nil, err
		}
		q := u.Query()
		q.Set("persona", sess.params.PersonaID)
		q.Set("voice", string(sess.params.Voice))
		u.RawQuery = q.Encode()
		target = u.String()
	}

	c, resp, err := w.cfg.Dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("realtime socket rejected: status %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("dial realtime socket: %w", err)
	}
	conn := &wsConn{c: c}
	c.SetReadLimit(8 << 20)
	if w.cfg.Credentials == nil {
		// The relay configures the upstream session itself.
		return conn, nil
	}
	if err := conn.send(SessionUpdate(sess.params)); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("send session.update: %w", err)
	}
	return conn, nil
}

// run owns the read side for the session and reconnects after unclean closes.
func (w *WebSocket) run(ctx context.Context, sess *wsSession, conn *wsConn) {
	attempts := 0
	for {
		clean := w.read(sess, conn, &attempts)
		if ctx.Err() != nil {
			return
		}
		sess.setConn(nil)
		_ = conn.c.Close()
		if clean {
			w.log.Info("realtime socket closed by server")
			w.settle(sess)
			return
		}

		w.transition(sess.gen, types.StatusConnecting)
		conn = nil
		for conn == nil {
			if attempts >= w.cfg.MaxReconnects {
				w.log.Warn("realtime socket lost", "err", ErrReconnectExhausted, "attempts", attempts)
				w.settle(sess)
				return
			}
			attempts++
			select {
			case <-time.After(time.Duration(attempts) * w.cfg.ReconnectDelay):
			case <-ctx.Done():
				return
			}
			c, err := w.dial(ctx, sess)
			if err != nil {
				w.log.Warn("realtime reconnect failed", "attempt", attempts, "err", err)
				continue
			}
			conn = c
		}
		if !sess.setConn(conn) {
			conn.close()
			return
		}
		w.transition(sess.gen, types.StatusConnected)
	}
}

// settle releases the session after the server ended it for good.
func (w *WebSocket) settle(sess *wsSession) {
	sess.release()
	w.transition(sess.gen, types.StatusDisconnected)
}

// read reports whether the socket ended with a normal closure.
func (w *WebSocket) read(sess *wsSession, conn *wsConn, attempts *int) bool {
	for {
		_, msg, err := conn.c.ReadMessage()
		if err != nil {
			return websocket.IsCloseError(err, websocket.CloseNormalClosure)
		}
		ev, err := DecodeEvent(msg)
		if err != nil {
			w.log.Debug("undecodable event", "err", err)
			continue
		}
		switch e := ev.(type) {
		case SessionCreated, SessionUpdated:
			*attempts = 0
		case OutputAudioDelta:
			if e.Audio != "" {
				pcm, err := audio.DecodeBase64PCM16(e.Audio)
				if err != nil {
					w.log.Debug("bad audio delta", "err", err)
				} else {
					_ = sess.sink.Write(pcm)
				}
			}
		case InputSpeechStopped:
			if err := conn.send(bareEvent{Type: "input_audio_buffer.commit"}); err == nil {
				_ = conn.send(bareEvent{Type: "response.create"})
			}
		case UnknownEvent:
			w.log.Debug("unhandled event", "type", e.Type)
		}
		w.apply(sess.gen, Interpret(ev))
	}
}

// pump pushes capture frames while connected and recording.
func (w *WebSocket) pump(ctx context.Context, sess *wsSession) {
	frames := sess.capture.Frames()
	rate := sess.capture.SampleRate()
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-frames:
			if !ok {
				return
			}
			if !w.recording.Load() || w.Status() != types.StatusConnected {
				continue
			}
			conn := sess.current()
			if conn == nil {
				continue
			}
			if rate != SessionSampleRate {
				f = audio.Resample(f, rate, SessionSampleRate)
			}
			if err := conn.send(appendEvent{Type: "input_audio_buffer.append", Audio: audio.EncodeBase64PCM16(f)}); err != nil {
				w.log.Debug("append audio", "err", err)
			}
		}
	}
}

// Send writes one client event on the socket.
func (w *WebSocket) Send(v any) error {
	w.mu.Lock()
	sess := w.sess
	w.mu.Unlock()
	if sess == nil || w.Status() != types.StatusConnected {
		return ErrNotConnected
	}
	conn := sess.current()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.send(v)
}

func (w *WebSocket) Disconnect() {
	w.cancelAttempt()
	w.op.Lock()
	defer w.op.Unlock()
	w.teardown()
}

// teardown must be called with op held.
func (w *WebSocket) teardown() {
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
