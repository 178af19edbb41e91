package realtime

import (
	"context"
	"fmt"
)

// CaptureConstraints are passed to the platform capture layer. Processing
// such as echo cancellation happens there, not in this package.
type CaptureConstraints struct {
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
	SampleRate       int
	Channels         int
}

// SessionSampleRate is the PCM16 rate of the socket protocol.
const SessionSampleRate = 24000

func DefaultConstraints() CaptureConstraints {
	return CaptureConstraints{
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
		SampleRate:       SessionSampleRate,
		Channels:         1,
	}
}

type Microphone interface {
	Open(ctx context.Context, c CaptureConstraints) (Capture, error)
}

// Capture delivers fixed-size mono frames in [-1, 1]. Frames is closed
// after Close.
type Capture interface {
	Frames() <-chan []float32
	SampleRate() int
	Close() error
}

type Speaker interface {
	Open(sampleRate int) (Sink, error)
}

// Sink plays PCM16 mono. Write after Close returns an error.
type Sink interface {
	Write(samples []int16) error
	Close() error
}

// MediaAccessError means the capture or playback device could not be opened.
// It ends the attempt; nothing retries it.
type MediaAccessError struct {
	Device string
	Err    error
}

func (e *MediaAccessError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Device, e.Err)
}

func (e *MediaAccessError) Unwrap() error { return e.Err }

func openMedia(ctx context.Context, mic Microphone, spk Speaker, playbackRate int) (Capture, Sink, error) {
	capture, err := mic.Open(ctx, DefaultConstraints())
	if err != nil {
		return nil, nil, &MediaAccessError{Device: "microphone", Err: err}
	}
	var sink Sink = discardSink{}
	if spk != nil {
		if sink, err = spk.Open(playbackRate); err != nil {
			capture.Close()
			return nil, nil, &MediaAccessError{Device: "speaker", Err: err}
		}
	}
	return capture, sink, nil
}

type discardSink struct{}

func (discardSink) Write([]int16) error { return nil }
func (discardSink) Close() error        { return nil }
