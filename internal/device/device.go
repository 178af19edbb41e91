// Package device binds the realtime client to the host's default microphone
// (malgo) and speaker (oto).
package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/steveyiyo/voicebridge/internal/audio"
	"github.com/steveyiyo/voicebridge/pkg/realtime"

	"github.com/ebitengine/oto/v3"
	"github.com/gen2brain/malgo"
)

const (
	periodMs = 20
	// OutputRate is the single rate the playback context runs at; oto allows
	// one context per process.
	OutputRate = 24000
)

var ErrClosed = errors.New("device: closed")

// Microphone opens the default capture device per session.
type Microphone struct{}

func (Microphone) Open(ctx context.Context, c realtime.CaptureConstraints) (realtime.Capture, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rate := c.SampleRate
	if rate <= 0 {
		rate = realtime.SessionSampleRate
	}
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{ThreadPriority: malgo.ThreadPriorityRealtime}, nil)
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}

	cp := &capture{rate: rate, mctx: mctx, frames: make(chan []float32, 32)}
	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = 1
	cfg.SampleRate = uint32(rate)
	cfg.PeriodSizeInMilliseconds = periodMs

	dev, err := malgo.InitDevice(mctx.Context, cfg, malgo.DeviceCallbacks{
		Data: func(_, in []byte, _ uint32) { cp.deliver(in) },
	})
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("init microphone: %w", err)
	}
	cp.dev = dev
	if err := dev.Start(); err != nil {
		cp.Close()
		return nil, fmt.Errorf("start microphone: %w", err)
	}
	return cp, nil
}

type capture struct {
	rate int
	mctx *malgo.AllocatedContext
	dev  *malgo.Device

	mu     sync.Mutex
	closed bool
	frames chan []float32
}

func (c *capture) Frames() <-chan []float32 { return c.frames }
func (c *capture) SampleRate() int          { return c.rate }

// deliver drops the frame when the consumer is behind.
func (c *capture) deliver(in []byte) {
	f := toFloat(audio.BytesPCM16(in))
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.frames <- f:
	default:
	}
}

func (c *capture) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.frames)
	c.mu.Unlock()

	if c.dev != nil {
		_ = c.dev.Stop()
		c.dev.Uninit()
	}
	err := c.mctx.Uninit()
	c.mctx.Free()
	return err
}

func toFloat(in []int16) []float32 {
	out := make([]float32, len(in))
	for i, s := range in {
		out[i] = float32(s) / 32768
	}
	return out
}

// Speaker plays through one shared oto context opened on first use.
type Speaker struct {
	once sync.Once
	ctx  *oto.Context
	err  error
}

func (s *Speaker) init() error {
	s.once.Do(func() {
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   OutputRate,
			ChannelCount: 1,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   100 * time.Millisecond,
		})
		if err != nil {
			s.err = fmt.Errorf("init speaker: %w", err)
			return
		}
		<-ready
		s.ctx = ctx
	})
	return s.err
}

func (s *Speaker) Open(sampleRate int) (realtime.Sink, error) {
	if err := s.init(); err != nil {
		return nil, err
	}
	k := &sink{rate: sampleRate, buf: newPlayBuffer()}
	k.player = s.ctx.NewPlayer(k.buf)
	k.player.Play()
	return k, nil
}

type sink struct {
	rate   int
	buf    *playBuffer
	player *oto.Player
}

func (k *sink) Write(samples []int16) error {
	if k.rate != OutputRate {
		samples = audio.ResamplePCM16(samples, k.rate, OutputRate)
	}
	return k.buf.write(audio.PCM16Bytes(samples))
}

func (k *sink) Close() error {
	k.buf.close()
	return k.player.Close()
}

// playBuffer is the io.Reader oto pulls from. Read blocks until data
// arrives and yields silence once closed.
type playBuffer struct {
	mu     sync.Mutex
	cond   *sync.Cond
	data   []byte
	closed bool
}

func newPlayBuffer() *playBuffer {
	b := &playBuffer{data: make([]byte, 0, OutputRate*4)}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *playBuffer) write(p []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.data = append(b.data, p...)
	b.cond.Signal()
	return nil
}

func (b *playBuffer) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for len(b.data) == 0 && !b.closed {
		b.cond.Wait()
	}
	if len(b.data) == 0 {
		clear(p)
		return len(p), nil
	}
	n := copy(p, b.data)
	b.data = b.data[n:]
	return n, nil
}

func (b *playBuffer) close() {
	b.mu.Lock()
	b.closed = true
	b.cond.Broadcast()
	b.mu.Unlock()
}
