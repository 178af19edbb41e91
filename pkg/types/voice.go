package types

import "strings"

// VoiceID names one of the upstream synthetic voices.
type VoiceID string

const (
	VoiceAlloy   VoiceID = "alloy"
	VoiceAsh     VoiceID = "ash"
	VoiceBallad  VoiceID = "ballad"
	VoiceCoral   VoiceID = "coral"
	VoiceEcho    VoiceID = "echo"
	VoiceSage    VoiceID = "sage"
	VoiceShimmer VoiceID = "shimmer"
	VoiceVerse   VoiceID = "verse"
	VoiceMarin   VoiceID = "marin"
	VoiceCedar   VoiceID = "cedar"
)

// DefaultVoice is used when neither the caller nor the persona names a supported voice.
const DefaultVoice = VoiceAlloy

var voices = []VoiceResp{
	{ID: VoiceAlloy, Description: "Neutral, balanced tone"},
	{ID: VoiceAsh, Description: "Clear, steady voice"},
	{ID: VoiceBallad, Description: "Expressive, melodic voice"},
	{ID: VoiceCoral, Description: "Warm, upbeat voice"},
	{ID: VoiceEcho, Description: "Warm, friendly voice"},
	{ID: VoiceSage, Description: "Calm, measured voice"},
	{ID: VoiceShimmer, Description: "Soft, gentle voice"},
	{ID: VoiceVerse, Description: "Bright, versatile voice"},
	{ID: VoiceMarin, Description: "Natural, conversational voice"},
	{ID: VoiceCedar, Description: "Deep, grounded voice"},
}

var voiceSet = func() map[VoiceID]struct{} {
	m := make(map[VoiceID]struct{}, len(voices))
	for _, v := range voices {
		m[v.ID] = struct{}{}
	}
	return m
}()

func Voices() []VoiceResp {
	out := make([]VoiceResp, len(voices))
	copy(out, voices)
	return out
}

func (v VoiceID) Valid() bool {
	_, ok := voiceSet[v]
	return ok
}

// NormalizeVoice picks s when it is a supported voice, then fallback, then DefaultVoice.
func NormalizeVoice(s string, fallback VoiceID) VoiceID {
	if v := VoiceID(strings.ToLower(strings.TrimSpace(s))); v.Valid() {
		return v
	}
	if fallback.Valid() {
		return fallback
	}
	return DefaultVoice
}
