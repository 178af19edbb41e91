package realtime

import (
	"encoding/json"
	"fmt"
)

// Event is one inbound control message. The set of variants is closed;
// tags the client does not know decode to UnknownEvent.
type Event interface {
	Tag() string
	event()
}

type SessionCreated struct{ Type string }
type SessionUpdated struct{ Type string }
type OutputAudioStarted struct{ Type string }

// OutputAudioDelta is a streaming chunk of assistant output. Audio holds
// base64 PCM16 for audio deltas and is empty for transcript deltas.
type OutputAudioDelta struct {
	Type  string
	Audio string
	Text  string
}

type OutputAudioDone struct{ Type string }
type InputSpeechStarted struct{ Type string }
type InputSpeechStopped struct{ Type string }

type ErrorEvent struct {
	Type    string
	Message string
	Code    string
}

type UnknownEvent struct{ Type string }

func (e SessionCreated) Tag() string     { return e.Type }
func (e SessionUpdated) Tag() string     { return e.Type }
func (e OutputAudioStarted) Tag() string { return e.Type }
func (e OutputAudioDelta) Tag() string   { return e.Type }
func (e OutputAudioDone) Tag() string    { return e.Type }
func (e InputSpeechStarted) Tag() string { return e.Type }
func (e InputSpeechStopped) Tag() string { return e.Type }
func (e ErrorEvent) Tag() string         { return e.Type }
func (e UnknownEvent) Tag() string       { return e.Type }

func (SessionCreated) event()     {}
func (SessionUpdated) event()     {}
func (OutputAudioStarted) event() {}
func (OutputAudioDelta) event()   {}
func (OutputAudioDone) event()    {}
func (InputSpeechStarted) event() {}
func (InputSpeechStopped) event() {}
func (ErrorEvent) event()         {}
func (UnknownEvent) event()       {}

type kind int

const (
	kindSessionCreated kind = iota + 1
	kindSessionUpdated
	kindAudioStarted
	kindAudioDelta
	kindTranscriptDelta
	kindAudioDone
	kindSpeechStarted
	kindSpeechStopped
	kindError
)

// Both API generations spell the same events differently.
var tags = map[string]kind{
	"session.created":                                     kindSessionCreated,
	"session.updated":                                     kindSessionUpdated,
	"output_audio_buffer.started":                         kindAudioStarted,
	"response.audio.delta":                                kindAudioDelta,
	"response.output_audio.delta":                         kindAudioDelta,
	"response.audio_transcript.delta":                     kindTranscriptDelta,
	"response.output_audio_transcript.delta":              kindTranscriptDelta,
	"response.audio.done":                                 kindAudioDone,
	"response.output_audio.done":                          kindAudioDone,
	"output_audio_buffer.stopped":                         kindAudioDone,
	"output_audio_buffer.cleared":                         kindAudioDone,
	"input_audio_buffer.speech_started":                   kindSpeechStarted,
	"conversation.item.input_audio_buffer.speech_started": kindSpeechStarted,
	"input_audio_buffer.speech_stopped":                   kindSpeechStopped,
	"conversation.item.input_audio_buffer.speech_stopped": kindSpeechStopped,
	"error": kindError,
}

type wireEvent struct {
	Type  string          `json:"type"`
	Delta string          `json:"delta"`
	Error json.RawMessage `json:"error"`
}

type wireError struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// DecodeEvent parses one control message. Only malformed JSON is an error.
func DecodeEvent(data []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	switch tags[w.Type] {
	case kindSessionCreated:
		return SessionCreated{Type: w.Type}, nil
	case kindSessionUpdated:
		return SessionUpdated{Type: w.Type}, nil
	case kindAudioStarted:
		return OutputAudioStarted{Type: w.Type}, nil
	case kindAudioDelta:
		return OutputAudioDelta{Type: w.Type, Audio: w.Delta}, nil
	case kindTranscriptDelta:
		return OutputAudioDelta{Type: w.Type, Text: w.Delta}, nil
	case kindAudioDone:
		return OutputAudioDone{Type: w.Type}, nil
	case kindSpeechStarted:
		return InputSpeechStarted{Type: w.Type}, nil
	case kindSpeechStopped:
		return InputSpeechStopped{Type: w.Type}, nil
	case kindError:
		var we wireError
		if len(w.Error) > 0 && json.Unmarshal(w.Error, &we) != nil {
			// Some servers send the error as a bare string.
			_ = json.Unmarshal(w.Error, &we.Message)
		}
		return ErrorEvent{Type: w.Type, Message: we.Message, Code: we.Code}, nil
	default:
		return UnknownEvent{Type: w.Type}, nil
	}
}

// DefaultErrorMessage is reported for error events without a message.
const DefaultErrorMessage = "Unknown error"

// Signal is the observable effect of one event. A nil Speaking leaves the
// flag unchanged; an empty Error reports nothing.
type Signal struct {
	Speaking *bool
	Error    string
}

func (s Signal) IsZero() bool { return s.Speaking == nil && s.Error == "" }

func flag(b bool) *bool { return &b }

// Interpret maps an event to its signal. Speaking tracks the assistant only.
func Interpret(e Event) Signal {
	switch ev := e.(type) {
	case OutputAudioStarted, OutputAudioDelta:
		return Signal{Speaking: flag(true)}
	case OutputAudioDone:
		return Signal{Speaking: flag(false)}
	case ErrorEvent:
		msg := ev.Message
		if msg == "" {
			msg = DefaultErrorMessage
		}
		return Signal{Error: msg}
	default:
		return Signal{}
	}
}
