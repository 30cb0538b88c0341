package transcription

import (
	"math"

	"github.com/yegors/diarscribe/internal/audio"
	"github.com/yegors/diarscribe/internal/diarization"
)

// planBatches groups consecutive turns greedily so that the slice durations plus the
// silence inserted between them stay within maxSeconds. A turn is never split; a turn
// longer than maxSeconds gets a batch of its own.
func planBatches(turns []diarization.Turn, maxSeconds, gap float64) [][]int {
	var batches [][]int
	var current []int
	var length float64

	for i, t := range turns {
		d := t.Duration()
		if len(current) > 0 && length+gap+d > maxSeconds {
			batches = append(batches, current)
			current = nil
			length = 0
		}
		if len(current) > 0 {
			length += gap
		}
		current = append(current, i)
		length += d
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}

// buildBatch concatenates the slices of the given turns with gap seconds of silence
// between them and records where each slice starts.
func buildBatch(asset *audio.Asset, turns []diarization.Turn, idxs []int, gap float64) batch {
	rate := float64(asset.SampleRate)
	silence := make([]float32, int(math.Round(gap*rate)))

	var b batch
	for n, i := range idxs {
		if n > 0 {
			b.pcm = append(b.pcm, silence...)
		}
		pcm := audio.Slice(asset, turns[i].Start, turns[i].End)
		b.slots = append(b.slots, slot{
			turn:     i,
			offset:   float64(len(b.pcm)) / rate,
			duration: float64(len(pcm)) / rate,
		})
		b.pcm = append(b.pcm, pcm...)
	}
	return b
}

// locate returns the slot a recognized span belongs to: the slot containing its
// midpoint, or the nearest slot when the midpoint falls in inserted silence.
func (b batch) locate(start, end float64) int {
	mid := (start + end) / 2
	best, bestDist := 0, math.Inf(1)
	for i, s := range b.slots {
		var dist float64
		switch {
		case mid < s.offset:
			dist = s.offset - mid
		case mid > s.offset+s.duration:
			dist = mid - (s.offset + s.duration)
		default:
			return i
		}
		if dist < bestDist {
			best, bestDist = i, dist
		}
	}
	return best
}

// halves splits a batch in two for the retry. A single turn is retried as is.
func halves(idxs []int) [][]int {
	if len(idxs) < 2 {
		return [][]int{idxs}
	}
	mid := len(idxs) / 2
	return [][]int{idxs[:mid], idxs[mid:]}
}
