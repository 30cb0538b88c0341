package enhance

import (
	"math"
	"math/cmplx"
	"sort"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
)

const (
	frameSize = 1024
	hopSize   = frameSize / 2

	// fraction of frames treated as noise-only when estimating the noise profile
	noiseFrameFraction = 0.1
	overSubtraction    = 2.0
	spectralFloor      = 0.05

	presenceLowHz  = 1000.0
	presenceHighHz = 4000.0
	// gain applied to the presence band at full voice clarity (about +6 dB)
	maxPresenceGain = 1.0
)

// spectrum is a short-time Fourier transform of a padded signal
type spectrum struct {
	frames [][]complex128
	length int // original signal length
	padded int
}

// hann returns a periodic Hann window. Periodic windows at 50% overlap sum to one,
// so overlap-add of unmodified frames reproduces the input.
func hann(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n))
	}
	return w
}

func stft(x []float64) *spectrum {
	padded := len(x) + frameSize
	if rem := (padded - frameSize) % hopSize; rem != 0 {
		padded += hopSize - rem
	}
	buf := make([]float64, padded)
	copy(buf[frameSize/2:], x)

	fft := fourier.NewFFT(frameSize)
	window := hann(frameSize)
	n := (padded-frameSize)/hopSize + 1

	frames := make([][]complex128, n)
	seg := make([]float64, frameSize)
	for f := 0; f < n; f++ {
		start := f * hopSize
		for i := range seg {
			seg[i] = buf[start+i] * window[i]
		}
		frames[f] = fft.Coefficients(nil, seg)
	}
	return &spectrum{frames: frames, length: len(x), padded: padded}
}

func (s *spectrum) inverse() []float64 {
	fft := fourier.NewFFT(frameSize)
	out := make([]float64, s.padded)
	seg := make([]float64, frameSize)
	for f, coeff := range s.frames {
		fft.Sequence(seg, coeff)
		start := f * hopSize
		for i, v := range seg {
			// gonum's transform is unnormalized
			out[start+i] += v / frameSize
		}
	}
	return out[frameSize/2 : frameSize/2+s.length]
}

// binHz returns the centre frequency of bin k
func binHz(k, sampleRate int) float64 {
	return float64(k) * float64(sampleRate) / frameSize
}

// reduceNoise performs spectral subtraction against a noise profile estimated from
// the quietest frames of the signal.
func reduceNoise(x []float64, strength float64) []float64 {
	if strength <= 0 || len(x) == 0 {
		return x
	}
	sp := stft(x)

	energies := make([]float64, len(sp.frames))
	for f, frame := range sp.frames {
		for _, c := range frame {
			energies[f] += real(c)*real(c) + imag(c)*imag(c)
		}
	}
	order := make([]int, len(energies))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return energies[order[a]] < energies[order[b]] })

	quiet := int(math.Ceil(float64(len(order)) * noiseFrameFraction))
	bins := frameSize/2 + 1
	profile := make([]float64, bins)
	for _, f := range order[:quiet] {
		for k, c := range sp.frames[f] {
			profile[k] += cmplx.Abs(c)
		}
	}
	floats.Scale(1/float64(quiet), profile)

	minGain := 1 - strength*(1-spectralFloor)
	for _, frame := range sp.frames {
		for k, c := range frame {
			mag := cmplx.Abs(c)
			if mag == 0 {
				continue
			}
			gain := 1 - overSubtraction*strength*profile[k]/mag
			if gain < minGain {
				gain = minGain
			}
			if gain > 1 {
				gain = 1
			}
			frame[k] = c * complex(gain, 0)
		}
	}
	return sp.inverse()
}

// boostClarity raises the speech presence band.
func boostClarity(x []float64, sampleRate int, strength float64) []float64 {
	if strength <= 0 || len(x) == 0 {
		return x
	}
	sp := stft(x)
	gain := complex(1+maxPresenceGain*strength, 0)
	for _, frame := range sp.frames {
		for k := range frame {
			hz := binHz(k, sampleRate)
			if hz >= presenceLowHz && hz <= presenceHighHz {
				frame[k] *= gain
			}
		}
	}
	return sp.inverse()
}

// normalizePeak scales the signal so its peak reaches target.
func normalizePeak(x []float64, target float64) []float64 {
	if target <= 0 || len(x) == 0 {
		return x
	}
	peak := 0.0
	for _, v := range x {
		peak = math.Max(peak, math.Abs(v))
	}
	if peak == 0 {
		return x
	}
	out := append([]float64(nil), x...)
	floats.Scale(target/peak, out)
	return out
}

func clip(x []float64) {
	for i, v := range x {
		if v > 1 {
			x[i] = 1
		} else if v < -1 {
			x[i] = -1
		}
	}
}

// process applies the whole chain in fixed order. The input slice is not modified.
func process(x []float64, sampleRate int, cfg Config) []float64 {
	if cfg.IsZero() || len(x) == 0 {
		return x
	}
	y := reduceNoise(x, cfg.NoiseReduction)
	y = boostClarity(y, sampleRate, cfg.VoiceClarity)
	y = normalizePeak(y, cfg.NormalizationTarget)
	if &y[0] == &x[0] {
		y = append([]float64(nil), y...)
	}
	clip(y)
	return y
}

func toFloat64(in []float32) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}
	return out
}

func toFloat32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}
