package transcript

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/yegors/diarscribe/internal/enhance"
)

// ErrWriteFailure is returned when a transcript cannot be persisted
var ErrWriteFailure = errors.New("transcript write failed")

// FailedMarker is rendered in place of the text of a segment that could not be transcribed
const FailedMarker = "[transcription failed]"

// Segment is one speaker-attributed span of recognized text
type Segment struct {
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	SpeakerID  string  `json:"speaker_id"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Failed     bool    `json:"failed,omitempty"`
	Failure    string  `json:"failure,omitempty"`
}

// Duration returns the segment length in seconds
func (s Segment) Duration() float64 {
	return s.End - s.Start
}

// Failure records a span that could not be transcribed
type Failure struct {
	Start float64
	End   float64
	Turns int
	Err   error
}

func (f Failure) Error() string {
	return fmt.Sprintf("%s-%s (%d turns): %v", FormatTimestamp(f.Start), FormatTimestamp(f.End), f.Turns, f.Err)
}

func (f Failure) Unwrap() error {
	return f.Err
}

// SpeakerLabel is the display identity of a speaker. Ordinals are assigned in order of
// first appearance, starting at 1.
type SpeakerLabel struct {
	Ordinal int    `json:"ordinal"`
	Name    string `json:"name,omitempty"`
}

// Display returns the name, or "Speaker N" for an unnamed speaker
func (l SpeakerLabel) Display() string {
	if l.Name != "" {
		return l.Name
	}
	return fmt.Sprintf("Speaker %d", l.Ordinal)
}

// Transcript is the ordered, speaker-labelled result of one session
type Transcript struct {
	ID          string                  `json:"id"`
	Source      string                  `json:"source"`
	Duration    float64                 `json:"duration"`
	Segments    []Segment               `json:"segments"`
	Speakers    map[string]SpeakerLabel `json:"speakers"`
	Failures    []Failure               `json:"-"`
	Enhancement enhance.Config          `json:"enhancement"`
	CreatedAt   time.Time               `json:"created_at"`
}

// New builds a transcript from segments, sorting them by start time and assigning
// speaker ordinals by first appearance.
func New(source string, duration float64, segments []Segment) *Transcript {
	sorted := append([]Segment(nil), segments...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Start < sorted[j].Start
	})

	t := &Transcript{
		ID:        uuid.NewString(),
		Source:    source,
		Duration:  duration,
		Segments:  sorted,
		Speakers:  make(map[string]SpeakerLabel),
		CreatedAt: time.Now().UTC(),
	}
	t.assignOrdinals()
	return t
}

func (t *Transcript) assignOrdinals() {
	for _, s := range t.Segments {
		if _, ok := t.Speakers[s.SpeakerID]; ok {
			continue
		}
		t.Speakers[s.SpeakerID] = SpeakerLabel{Ordinal: len(t.Speakers) + 1}
	}
}

// SpeakerIDs returns the distinct speaker ids in first-appearance order
func (t *Transcript) SpeakerIDs() []string {
	ids := make([]string, 0, len(t.Speakers))
	for id := range t.Speakers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return t.Speakers[ids[i]].Ordinal < t.Speakers[ids[j]].Ordinal
	})
	return ids
}

// Label returns the label for a speaker id
func (t *Transcript) Label(speakerID string) (SpeakerLabel, bool) {
	l, ok := t.Speakers[speakerID]
	return l, ok
}

// DisplayName returns the rendered name of a speaker id
func (t *Transcript) DisplayName(speakerID string) string {
	if l, ok := t.Speakers[speakerID]; ok {
		return l.Display()
	}
	return "Unknown"
}

// SpeakerByOrdinal returns the speaker id holding an ordinal
func (t *Transcript) SpeakerByOrdinal(ordinal int) (string, bool) {
	for id, l := range t.Speakers {
		if l.Ordinal == ordinal {
			return id, true
		}
	}
	return "", false
}

// SetName names a speaker. It reports false for an unknown speaker id.
func (t *Transcript) SetName(speakerID, name string) bool {
	l, ok := t.Speakers[speakerID]
	if !ok {
		return false
	}
	l.Name = name
	t.Speakers[speakerID] = l
	return true
}

// FirstSegment returns the first segment spoken by a speaker with text, falling back
// to any segment of that speaker.
func (t *Transcript) FirstSegment(speakerID string) (Segment, bool) {
	var fallback *Segment
	for i, s := range t.Segments {
		if s.SpeakerID != speakerID {
			continue
		}
		if !s.Failed && s.Text != "" {
			return s, true
		}
		if fallback == nil {
			fallback = &t.Segments[i]
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return Segment{}, false
}

// FailedCount returns the number of failed segments
func (t *Transcript) FailedCount() int {
	n := 0
	for _, s := range t.Segments {
		if s.Failed {
			n++
		}
	}
	return n
}
