// Command voicecli holds one voice conversation with a persona from the
// terminal, over WebRTC or a realtime socket.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/steveyiyo/voicebridge/internal/core/openai"
	"github.com/steveyiyo/voicebridge/internal/device"
	"github.com/steveyiyo/voicebridge/internal/logging"
	"github.com/steveyiyo/voicebridge/pkg/realtime"
	"github.com/steveyiyo/voicebridge/pkg/types"

	"github.com/joho/godotenv"
)

type options struct {
	server    string
	transport string
	persona   string
	voice     string
	upstream  string
	model     string
	logLevel  string
}

func main() {
	_ = godotenv.Load()
	var o options
	flag.StringVar(&o.server, "server", envOr("VOICEBRIDGE_URL", "http://localhost:8080"), "broker base URL")
	flag.StringVar(&o.transport, "transport", "webrtc", "webrtc, websocket (direct with ephemeral credential) or relay")
	flag.StringVar(&o.persona, "persona", "", "persona id (default persona when empty)")
	flag.StringVar(&o.voice, "voice", "", "voice override")
	flag.StringVar(&o.upstream, "upstream", envOr("OPENAI_BASE_URL", "https://api.openai.com"), "realtime API base for -transport websocket")
	flag.StringVar(&o.model, "model", envOr("OPENAI_CREDENTIAL_MODEL", "gpt-realtime"), "realtime model for -transport websocket")
	flag.StringVar(&o.logLevel, "log-level", envOr("LOG_LEVEL", "warn"), "log level")
	flag.Parse()

	log, closer := logging.New(o.logLevel, "")
	defer closer.Close()

	if err := run(o, log); err != nil {
		fmt.Fprintln(os.Stderr, "voicecli:", err)
		os.Exit(1)
	}
}

func run(o options, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	done := make(chan struct{}, 1)
	cb := realtime.Callbacks{
		OnStatus: func(s types.ConnectionStatus) {
			fmt.Printf("[status] %s\n", s)
			if s == types.StatusDisconnected {
				select {
				case done <- struct{}{}:
				default:
				}
			}
		},
		OnError:    func(msg string) { fmt.Printf("[error] %s\n", msg) },
		OnSpeaking: func(v bool) { fmt.Printf("[speaking] %v\n", v) },
	}

	t, ws, err := build(o, cb, log)
	if err != nil {
		return err
	}
	if err := t.Connect(ctx, realtime.ConnectOptions{Persona: o.persona, Voice: o.voice}); err != nil {
		t.Disconnect()
		return err
	}
	defer t.Disconnect()

	if ws != nil {
		fmt.Println("type mute, unmute or quit")
		go commands(ws, stop)
	}
	select {
	case <-ctx.Done():
	case <-done:
	}
	return nil
}

func build(o options, cb realtime.Callbacks, log *slog.Logger) (realtime.Transport, *realtime.WebSocket, error) {
	broker := realtime.NewBroker(o.server)
	mic := device.Microphone{}
	spk := &device.Speaker{}

	switch o.transport {
	case "webrtc":
		return realtime.NewWebRTC(realtime.WebRTCConfig{
			Negotiator: broker,
			Microphone: mic,
			Speaker:    spk,
			Callbacks:  cb,
			Log:        log,
		}), nil, nil
	case "websocket", "relay":
		cfg := realtime.WebSocketConfig{
			URL:        strings.TrimRight(o.server, "/") + "/v1/stream",
			Microphone: mic,
			Speaker:    spk,
			Callbacks:  cb,
			Log:        log,
		}
		if o.transport == "websocket" {
			u, err := openai.RealtimeURL(o.upstream, o.model)
			if err != nil {
				return nil, nil, err
			}
			cfg.URL = u
			cfg.Credentials = broker
		} else {
			cfg.URL = strings.Replace(cfg.URL, "http", "ws", 1)
		}
		ws := realtime.NewWebSocket(cfg)
		return ws, ws, nil
	default:
		return nil, nil, fmt.Errorf("unknown transport %q", o.transport)
	}
}

func commands(ws *realtime.WebSocket, quit func()) {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		switch strings.TrimSpace(sc.Text()) {
		case "mute":
			ws.SetRecording(false)
		case "unmute":
			ws.SetRecording(true)
		case "quit":
			quit()
			return
		}
	}
}

func envOr(k, d string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return d
}
