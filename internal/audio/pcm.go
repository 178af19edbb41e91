// Package audio converts between capture frames and the wire encodings the
// realtime transports use: little-endian PCM16 (base64 on sockets) and G.711
// μ-law on RTP.
package audio

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
)

// FloatToPCM16 clamps samples to [-1, 1] and scales them asymmetrically so
// -1 maps to -32768 and 1 to 32767.
func FloatToPCM16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		switch {
		case s > 1:
			s = 1
		case s < -1:
			s = -1
		}
		if s < 0 {
			out[i] = int16(s * 0x8000)
		} else {
			out[i] = int16(s * 0x7fff)
		}
	}
	return out
}

func PCM16Bytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// BytesPCM16 ignores a trailing odd byte.
func BytesPCM16(data []byte) []int16 {
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out
}

// EncodeBase64PCM16 is the payload of an input_audio_buffer.append event.
func EncodeBase64PCM16(samples []float32) string {
	return base64.StdEncoding.EncodeToString(PCM16Bytes(FloatToPCM16(samples)))
}

func DecodeBase64PCM16(s string) ([]int16, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode audio delta: %w", err)
	}
	return BytesPCM16(raw), nil
}
