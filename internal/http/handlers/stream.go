package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/steveyiyo/voicebridge/internal/core/openai"
	"github.com/steveyiyo/voicebridge/internal/core/session"
	"github.com/steveyiyo/voicebridge/internal/metrics"
	"github.com/steveyiyo/voicebridge/internal/persona"
	"github.com/steveyiyo/voicebridge/pkg/types"
	"github.com/steveyiyo/voicebridge/pkg/ws"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 25 * time.Second
	writeWait  = 5 * time.Second
	dialWait   = 10 * time.Second
)

// LiveConn is one upstream realtime socket opened with the server secret.
type LiveConn interface {
	Send(ctx context.Context, msg []byte) error
	Receive() <-chan []byte
	// CloseCode is the close code the upstream sent, valid once Receive is
	// closed. 0 means the relay closed it; 1006 means no close frame arrived.
	CloseCode() int
	Close()
}

type LiveDialer func(ctx context.Context) (LiveConn, error)

type StreamHandler struct {
	Hub      *ws.Hub
	Sess     *session.Service
	Dial     LiveDialer
	Model    string
	Log      *slog.Logger
	Upgrader websocket.Upgrader
}

func NewStreamHandler(h *ws.Hub, s *session.Service, dial LiveDialer, model string, allowAnyOrigin bool, log *slog.Logger) *StreamHandler {
	up := websocket.Upgrader{ReadBufferSize: 16 << 10, WriteBufferSize: 16 << 10}
	if allowAnyOrigin {
		up.CheckOrigin = func(r *http.Request) bool { return true }
	}
	return &StreamHandler{Hub: h, Sess: s, Dial: dial, Model: model, Log: log, Upgrader: up}
}

// WS relays one browser socket to the upstream realtime socket. The persona
// configuration is sent by the server; the browser never sees a credential.
func (h *StreamHandler) WS(c *gin.Context) {
	p := persona.Bind(persona.Resolve(c.Query("persona")), c.Query("voice"), h.Model)

	conn, err := h.Upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	id := h.Sess.Open(types.TransportRelay, p)
	log := h.Log.With("session_id", id, "persona", p.PersonaID)

	h.Hub.Add(id, conn)
	metrics.RelaysActive.Inc()
	defer func() {
		h.Hub.Remove(id)
		metrics.RelaysActive.Dec()
		conn.Close()
	}()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	dctx, dcancel := context.WithTimeout(ctx, dialWait)
	live, err := h.Dial(dctx)
	dcancel()
	if err != nil {
		status, body := statusFor(err)
		log.Error("upstream dial failed", "status", status, "err", err)
		h.Sess.Fail(id, status)
		closeWithError(conn, body.Error)
		return
	}
	defer live.Close()

	update, _ := json.Marshal(map[string]any{
		"type":    "session.update",
		"session": openai.StreamSession(p.Model, p.Instructions, p.Voice),
	})
	if err := live.Send(ctx, update); err != nil {
		h.Sess.Fail(id, 0)
		closeWithError(conn, "upstream closed")
		return
	}
	log.Info("relay opened")

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.pumpUpstream(conn, live)
	}()

	conn.SetReadLimit(8 << 20)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if mt != websocket.TextMessage {
			continue
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
		out, ok := SanitizeClientFrame(msg, p.Voice)
		if !ok {
			log.Warn("dropped client frame carrying system instructions")
			continue
		}
		if err := live.Send(ctx, out); err != nil {
			break
		}
	}

	live.Close()
	<-done
	h.Sess.Close(id)
	log.Info("relay closed")
}

// pumpUpstream is the only writer of data frames to the browser socket.
func (h *StreamHandler) pumpUpstream(conn *websocket.Conn, live LiveConn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-live.Receive():
			if !ok {
				code, reason := relayClose(live.CloseCode())
				if code != websocket.CloseNormalClosure {
					h.Log.Warn("upstream socket ended", "upstream_code", live.CloseCode(), "code", code)
				}
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(code, reason),
					time.Now().Add(writeWait))
				_ = conn.Close()
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func closeWithError(conn *websocket.Conn, msg string) {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteJSON(gin.H{
		"type":  "error",
		"error": gin.H{"message": msg},
	})
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseInternalServerErr, msg),
		time.Now().Add(writeWait))
}

// relayClose maps the upstream close code to the one sent to the browser.
// Only a normal upstream closure is reported as normal; a lost upstream is
// reported as 1011 so clients treat it as unclean.
func relayClose(upstream int) (int, string) {
	switch {
	case upstream == websocket.CloseNormalClosure:
		return websocket.CloseNormalClosure, "upstream closed"
	case upstream >= websocket.CloseGoingAway && upstream <= websocket.CloseUnsupportedData,
		upstream >= websocket.CloseInvalidFramePayloadData && upstream <= websocket.CloseTryAgainLater,
		upstream >= 3000 && upstream <= 4999:
		return upstream, "upstream closed"
	default:
		return websocket.CloseInternalServerErr, "upstream lost"
	}
}

// SanitizeClientFrame keeps the persona authoritative. session.update loses
// instructions and gets its voices normalized, response.create loses
// per-response instructions and system input items, and system-role
// conversation items are refused (ok is false). Other frames pass through.
func SanitizeClientFrame(msg []byte, fallback types.VoiceID) (out []byte, ok bool) {
	var frame map[string]json.RawMessage
	if err := json.Unmarshal(msg, &frame); err != nil {
		return msg, true
	}
	var typ string
	if err := json.Unmarshal(frame["type"], &typ); err != nil {
		return msg, true
	}

	switch typ {
	case "session.update":
		return rewrite(frame, "session", msg, func(sess map[string]any) {
			delete(sess, "instructions")
			if v, ok := sess["voice"].(string); ok {
				sess["voice"] = string(types.NormalizeVoice(v, fallback))
			}
			if audio, ok := sess["audio"].(map[string]any); ok {
				if out, ok := audio["output"].(map[string]any); ok {
					if v, ok := out["voice"].(string); ok {
						out["voice"] = string(types.NormalizeVoice(v, fallback))
					}
				}
			}
		}), true
	case "response.create":
		return rewrite(frame, "response", msg, func(resp map[string]any) {
			delete(resp, "instructions")
			items, ok := resp["input"].([]any)
			if !ok {
				return
			}
			kept := items[:0]
			for _, it := range items {
				if !isSystemItem(it) {
					kept = append(kept, it)
				}
			}
			resp["input"] = kept
		}), true
	case "conversation.item.create":
		var item any
		if err := json.Unmarshal(frame["item"], &item); err == nil && isSystemItem(item) {
			return nil, false
		}
	}
	return msg, true
}

func isSystemItem(v any) bool {
	m, ok := v.(map[string]any)
	if !ok {
		return false
	}
	role, _ := m["role"].(string)
	return strings.EqualFold(role, "system") || strings.EqualFold(role, "developer")
}

// rewrite applies fn to the object under key and re-encodes the frame.
// Frames whose key is not an object are returned unchanged.
func rewrite(frame map[string]json.RawMessage, key string, msg []byte, fn func(map[string]any)) []byte {
	var obj map[string]any
	if err := json.Unmarshal(frame[key], &obj); err != nil || obj == nil {
		return msg
	}
	fn(obj)
	raw, err := json.Marshal(obj)
	if err != nil {
		return msg
	}
	frame[key] = raw
	out, err := json.Marshal(frame)
	if err != nil {
		return msg
	}
	return out
}
