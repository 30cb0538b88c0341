package transcription

import (
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/yegors/diarscribe/internal/transcript"
)

// PostProcess cleans up per-turn segments: text is NFC-normalized and whitespace
// collapsed, segments without text are dropped (failed ones are kept as explicit
// gaps), overlaps are clamped, and adjacent same-speaker segments closer than
// mergeGap seconds are merged.
func PostProcess(segments []transcript.Segment, mergeGap float64) []transcript.Segment {
	cleaned := make([]transcript.Segment, 0, len(segments))
	for _, s := range segments {
		s.Text = cleanText(s.Text)
		if s.Failed {
			s.Text = ""
		} else if s.Text == "" {
			continue
		}
		cleaned = append(cleaned, s)
	}
	sort.SliceStable(cleaned, func(i, j int) bool {
		return cleaned[i].Start < cleaned[j].Start
	})

	out := make([]transcript.Segment, 0, len(cleaned))
	for _, s := range cleaned {
		n := len(out)
		if n > 0 && s.Start < out[n-1].End {
			s.Start = out[n-1].End
			if s.End <= s.Start {
				continue
			}
		}
		if n > 0 && canMerge(out[n-1], s, mergeGap) {
			out[n-1] = merge(out[n-1], s)
			continue
		}
		out = append(out, s)
	}
	return out
}

func canMerge(prev, next transcript.Segment, gap float64) bool {
	return prev.SpeakerID == next.SpeakerID &&
		!prev.Failed && !next.Failed &&
		next.Start-prev.End < gap
}

// merge joins two segments, weighting confidence by duration
func merge(a, b transcript.Segment) transcript.Segment {
	da, db := a.Duration(), b.Duration()
	out := a
	out.Text = a.Text + " " + b.Text
	if b.End > out.End {
		out.End = b.End
	}
	if da+db > 0 {
		out.Confidence = (a.Confidence*da + b.Confidence*db) / (da + db)
	}
	return out
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(norm.NFC.String(s)), " ")
}
