package audio

const (
	ulawBias = 0x84
	ulawClip = 32635
)

var ulawDecode [256]int16

func init() {
	for i := range 256 {
		ulawDecode[i] = decodeUlaw(byte(i))
	}
}

func decodeUlaw(b byte) int16 {
	b = ^b
	exp := (b >> 4) & 0x07
	mant := int16(b & 0x0f)
	s := ((mant << 3) + ulawBias) << exp
	s -= ulawBias
	if b&0x80 != 0 {
		return -s
	}
	return s
}

func encodeUlaw(s int16) byte {
	v := int32(s)
	sign := byte(0)
	if v < 0 {
		v = -v
		sign = 0x80
	}
	if v > ulawClip {
		v = ulawClip
	}
	v += ulawBias
	exp := byte(7)
	for mask := int32(0x4000); v&mask == 0 && exp > 0; mask >>= 1 {
		exp--
	}
	mant := byte((v >> (exp + 3)) & 0x0f)
	return ^(sign | exp<<4 | mant)
}

// EncodeUlaw packs PCM16 samples into one μ-law byte each.
func EncodeUlaw(samples []int16) []byte {
	out := make([]byte, len(samples))
	for i, s := range samples {
		out[i] = encodeUlaw(s)
	}
	return out
}

func DecodeUlaw(data []byte) []int16 {
	out := make([]int16, len(data))
	for i, b := range data {
		out[i] = ulawDecode[b]
	}
	return out
}
