package enhance

import (
	"math"
	"math/cmplx"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const (
	contrastQuantile = 0.2
	contrastEpsilon  = 1e-10
)

// contrastBandEdges are octave bands in Hz; the last band runs to Nyquist.
var contrastBandEdges = []float64{0, 200, 400, 800, 1600, 3200}

// correlation is the Pearson correlation of two equal-length signals. Degenerate
// input (constant or empty) scores zero.
func correlation(x, y []float64) float64 {
	n := min(len(x), len(y))
	if n < 2 {
		return 0
	}
	c := stat.Correlation(x[:n], y[:n], nil)
	if math.IsNaN(c) || math.IsInf(c, 0) {
		return 0
	}
	return c
}

// spectralContrast returns the mean peak-to-valley ratio in dB across octave bands
// and non-silent frames.
func spectralContrast(x []float64, sampleRate int) float64 {
	if len(x) == 0 {
		return 0
	}
	sp := stft(x)
	nyquist := float64(sampleRate) / 2

	var total float64
	var count int
	mags := make([]float64, 0, frameSize/2+1)
	for _, frame := range sp.frames {
		mags = mags[:0]
		for _, c := range frame {
			mags = append(mags, cmplx.Abs(c))
		}
		if floats.Sum(mags) == 0 {
			continue
		}

		for b, lo := range contrastBandEdges {
			hi := nyquist
			if b+1 < len(contrastBandEdges) {
				hi = contrastBandEdges[b+1]
			}
			if lo >= nyquist {
				break
			}
			band := bandMagnitudes(mags, sampleRate, lo, hi)
			if len(band) < 2 {
				continue
			}
			sort.Float64s(band)
			k := max(1, int(math.Round(float64(len(band))*contrastQuantile)))
			valley := floats.Sum(band[:k]) / float64(k)
			peak := floats.Sum(band[len(band)-k:]) / float64(k)
			total += 20 * math.Log10((peak+contrastEpsilon)/(valley+contrastEpsilon))
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return total / float64(count)
}

func bandMagnitudes(mags []float64, sampleRate int, lo, hi float64) []float64 {
	var band []float64
	for k, m := range mags {
		hz := binHz(k, sampleRate)
		if hz >= lo && hz < hi {
			band = append(band, m)
		}
	}
	return band
}

// score combines fidelity and clarity into one number
func score(corr, improvementDB float64, opts SearchOptions) float64 {
	w := opts.CorrelationWeight
	return w*corr + (1-w)*(improvementDB/opts.ContrastScaleDB)
}
