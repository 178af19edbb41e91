package openai

import (
	"github.com/steveyiyo/voicebridge/pkg/types"

	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/realtime"
	"github.com/openai/openai-go/v3/responses"
)

// Stream session contract. PCM16 at StreamRate both ways, server VAD drives turns.
const (
	StreamRate          = 24000
	TranscriptionModel  = "whisper-1"
	VADThreshold        = 0.5
	VADPrefixPaddingMs  = 300
	VADSilenceMs        = 500
	MaxOutputTokens     = 4096
	toolChoiceAuto      = "auto"
	pcmFormat           = "audio/pcm"
	sessionTypeRealtime = "realtime"
)

// SessionParams is the minimal GA session: model, instructions and voice.
// It is attached to calls and to client secrets. Empty values are omitted.
func SessionParams(model, instructions string, voice types.VoiceID) *realtime.RealtimeSessionCreateRequestParam {
	s := &realtime.RealtimeSessionCreateRequestParam{
		Type:  sessionTypeRealtime,
		Model: realtime.RealtimeSessionCreateRequestModel(model),
	}
	if instructions != "" {
		s.Instructions = param.NewOpt(instructions)
	}
	if voice != "" {
		s.Audio.Output.Voice = realtime.RealtimeAudioConfigOutputVoice(voice)
	}
	return s
}

// StreamSession is the full contract for a socket session.
func StreamSession(model, instructions string, voice types.VoiceID) *realtime.RealtimeSessionCreateRequestParam {
	s := SessionParams(model, instructions, voice)
	s.OutputModalities = []string{"audio"}

	format := map[string]any{"format": map[string]any{"type": pcmFormat, "rate": StreamRate}}
	in := realtime.RealtimeAudioConfigInputParam{
		Transcription: realtime.AudioTranscriptionParam{
			Model: realtime.AudioTranscriptionModel(TranscriptionModel),
		},
		TurnDetection: realtime.RealtimeAudioInputTurnDetectionUnionParam{
			OfServerVad: &realtime.RealtimeAudioInputTurnDetectionServerVadParam{
				Type:              "server_vad",
				Threshold:         param.NewOpt(VADThreshold),
				PrefixPaddingMs:   param.NewOpt(int64(VADPrefixPaddingMs)),
				SilenceDurationMs: param.NewOpt(int64(VADSilenceMs)),
			},
		},
	}
	in.SetExtraFields(format)
	out := s.Audio.Output
	out.SetExtraFields(format)
	s.Audio = realtime.RealtimeAudioConfigParam{Input: in, Output: out}

	s.Tools = realtime.RealtimeToolsConfigParam{}
	s.ToolChoice = realtime.RealtimeToolChoiceConfigUnionParam{
		OfToolChoiceMode: param.NewOpt(responses.ToolChoiceOptions(toolChoiceAuto)),
	}
	s.MaxOutputTokens = realtime.RealtimeSessionCreateRequestMaxOutputTokensUnionParam{
		OfInt: param.NewOpt(int64(MaxOutputTokens)),
	}
	return s
}
