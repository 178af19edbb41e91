package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var ErrLiveClosed = errors.New("openai: live connection closed")

// LiveClient manages one websocket connection to the realtime API, opened
// with the server-held key.
type LiveClient struct {
	conn      *websocket.Conn
	log       *slog.Logger
	sendChan  chan []byte
	recvChan  chan []byte
	doneChan  chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	closeCode int // written before recvChan is closed
}

// RealtimeURL converts the REST base into the websocket endpoint for model.
func RealtimeURL(baseURL, model string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/") + "/v1/realtime")
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	q := u.Query()
	q.Set("model", model)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// DialLive opens the upstream socket. Frames are exchanged through Send and Receive.
func (c *Client) DialLive(ctx context.Context, model string, log *slog.Logger) (*LiveClient, error) {
	if !c.Configured() {
		return nil, ErrNoAPIKey
	}
	u, err := RealtimeURL(c.baseURL, model)
	if err != nil {
		return nil, err
	}
	headers := http.Header{}
	headers.Add("Authorization", "Bearer "+c.apiKey)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u, headers)
	if err != nil {
		if resp != nil {
			return nil, &StatusError{Op: "realtime", Status: resp.StatusCode}
		}
		return nil, fmt.Errorf("dial realtime websocket: %w", err)
	}

	l := &LiveClient{
		conn:     conn,
		log:      log,
		sendChan: make(chan []byte),
		recvChan: make(chan []byte, 16),
		doneChan: make(chan struct{}),
	}
	l.wg.Add(2)
	go l.readMessages()
	go l.writeMessages()
	return l, nil
}

func (l *LiveClient) readMessages() {
	defer l.wg.Done()
	defer close(l.recvChan)
	for {
		_, message, err := l.conn.ReadMessage()
		if err != nil {
			l.closeCode = closeCodeOf(err, l.doneChan)
			if l.closeCode != websocket.CloseNormalClosure {
				l.log.Debug("realtime read ended", "err", err, "code", l.closeCode)
			}
			return
		}
		select {
		case l.recvChan <- message:
		case <-l.doneChan:
			return
		}
	}
}

func (l *LiveClient) writeMessages() {
	defer l.wg.Done()
	for {
		select {
		case msg := <-l.sendChan:
			_ = l.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := l.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				l.log.Debug("realtime write failed", "err", err)
			}
		case <-l.doneChan:
			err := l.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			if err != nil {
				l.log.Debug("realtime write close", "err", err)
			}
			return
		}
	}
}

// Send queues one text frame for the upstream.
func (l *LiveClient) Send(ctx context.Context, msg []byte) error {
	select {
	case l.sendChan <- msg:
		return nil
	case <-l.doneChan:
		return ErrLiveClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// closeCodeOf is the peer's close code, 0 after a local Close, and 1006 when
// the socket ended without a close frame.
func closeCodeOf(err error, done <-chan struct{}) int {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	select {
	case <-done:
		return 0
	default:
		return websocket.CloseAbnormalClosure
	}
}

// CloseCode reports how the upstream ended. Valid once Receive is closed.
func (l *LiveClient) CloseCode() int { return l.closeCode }

// Receive streams upstream frames; the channel closes when the upstream goes away.
func (l *LiveClient) Receive() <-chan []byte {
	return l.recvChan
}

// Close sends a normal closure and releases the socket. Safe to call twice.
func (l *LiveClient) Close() {
	l.closeOnce.Do(func() {
		close(l.doneChan)
		_ = l.conn.SetReadDeadline(time.Now().Add(time.Second))
		go func() {
			l.wg.Wait()
			l.conn.Close()
		}()
	})
}
