package audio

// remix converts interleaved samples from one channel count to another. Downmixing
// averages all input channels, upmixing duplicates the mono signal.
func remix(samples []float32, from, to int) []float32 {
	if from == to {
		return append([]float32(nil), samples...)
	}
	frames := len(samples) / from
	out := make([]float32, frames*to)

	for f := 0; f < frames; f++ {
		var sum float32
		for c := 0; c < from; c++ {
			sum += samples[f*from+c]
		}
		mono := sum / float32(from)
		for c := 0; c < to; c++ {
			out[f*to+c] = mono
		}
	}
	return out
}

// resample changes the sample rate of interleaved samples with linear interpolation.
func resample(samples []float32, channels, from, to int) []float32 {
	if from == to || len(samples) == 0 {
		return append([]float32(nil), samples...)
	}
	inFrames := len(samples) / channels
	outFrames := int(int64(inFrames) * int64(to) / int64(from))
	out := make([]float32, outFrames*channels)

	ratio := float64(from) / float64(to)
	for f := 0; f < outFrames; f++ {
		pos := float64(f) * ratio
		i := int(pos)
		frac := float32(pos - float64(i))
		j := i + 1
		if j >= inFrames {
			j = inFrames - 1
		}
		for c := 0; c < channels; c++ {
			a := samples[i*channels+c]
			b := samples[j*channels+c]
			out[f*channels+c] = a + (b-a)*frac
		}
	}
	return out
}

// mono returns a single-channel view of interleaved samples
func mono(samples []float32, channels int) []float32 {
	if channels == 1 {
		return samples
	}
	return remix(samples, channels, 1)
}
