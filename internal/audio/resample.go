package audio

import "math"

const filterTaps = 31

// Resample converts float samples between rates with linear interpolation,
// band-limited by a Blackman-windowed sinc filter on the side with the higher rate.
func Resample(in []float32, from, to int) []float32 {
	if from == to || len(in) == 0 {
		return in
	}
	cutoff := float64(min(from, to)) / 2
	if from > to {
		in = lowPass(in, cutoff, float64(from))
	}

	step := float64(from) / float64(to)
	out := make([]float32, int(float64(len(in))/step))
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j+1 >= len(in) {
			out[i] = in[len(in)-1]
			continue
		}
		f := float32(pos - float64(j))
		out[i] = in[j]*(1-f) + in[j+1]*f
	}

	if to > from {
		out = lowPass(out, cutoff, float64(to))
	}
	return out
}

// ResamplePCM16 round-trips through float for int16 sinks.
func ResamplePCM16(in []int16, from, to int) []int16 {
	if from == to {
		return in
	}
	f := make([]float32, len(in))
	for i, s := range in {
		f[i] = float32(s) / math.MaxInt16
	}
	return FloatToPCM16(Resample(f, from, to))
}

func lowPass(in []float32, cutoff, rate float64) []float32 {
	k := kernel(cutoff / rate)
	half := filterTaps / 2
	out := make([]float32, len(in))
	for i := range in {
		var acc float32
		for j := max(0, half-i); j < min(filterTaps, len(in)-i+half); j++ {
			acc += in[i+j-half] * k[j]
		}
		out[i] = acc
	}
	return out
}

func kernel(fc float64) []float32 {
	half := filterTaps / 2
	k := make([]float32, filterTaps)
	var total float64
	for i := range filterTaps {
		n := float64(i - half)
		v := 1.0
		if n != 0 {
			x := 2 * math.Pi * fc * n
			v = math.Sin(x) / x
		}
		t := float64(i) / float64(filterTaps-1)
		v *= 0.42 - 0.5*math.Cos(2*math.Pi*t) + 0.08*math.Cos(4*math.Pi*t)
		k[i] = float32(v)
		total += v
	}
	for i := range k {
		k[i] = float32(float64(k[i]) / total)
	}
	return k
}
