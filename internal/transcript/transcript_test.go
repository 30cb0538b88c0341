package transcript

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func sample() *Transcript {
	return New("meeting.wav", 20, []Segment{
		{Start: 12, End: 20, SpeakerID: "SPEAKER_00", Text: "fine thanks", Confidence: 0.8},
		{Start: 0, End: 12, SpeakerID: "SPEAKER_01", Text: "hello how are you", Confidence: 0.9},
		{Start: 20, End: 20.5, SpeakerID: "SPEAKER_02", Failed: true, Failure: "timeout"},
	})
}

func TestNewAssignsOrdinalsByFirstAppearance(t *testing.T) {
	t.Parallel()

	tr := sample()
	if got := tr.SpeakerIDs(); strings.Join(got, ",") != "SPEAKER_01,SPEAKER_00,SPEAKER_02" {
		t.Fatalf("unexpected speaker order: %v", got)
	}
	if got := tr.DisplayName("SPEAKER_01"); got != "Speaker 1" {
		t.Fatalf("unexpected display name: %q", got)
	}
	if !tr.SetName("SPEAKER_00", "Bob") || tr.DisplayName("SPEAKER_00") != "Bob" {
		t.Fatalf("expected rename to apply")
	}
	if tr.SetName("nobody", "X") {
		t.Fatalf("expected unknown speaker to be rejected")
	}
	if id, ok := tr.SpeakerByOrdinal(3); !ok || id != "SPEAKER_02" {
		t.Fatalf("unexpected ordinal lookup: %q %v", id, ok)
	}
	if tr.FailedCount() != 1 {
		t.Fatalf("unexpected failed count: %d", tr.FailedCount())
	}
}

func TestRender(t *testing.T) {
	t.Parallel()

	tr := sample()
	tr.SetName("SPEAKER_01", "Alice")
	want := "[00:00:00.000–00:00:12.000] Alice: hello how are you\n" +
		"[00:00:12.000–00:00:20.000] Speaker 2: fine thanks\n" +
		"[00:00:20.000–00:00:20.500] Speaker 3: [transcription failed]\n"
	if got := Render(tr); got != want {
		t.Fatalf("unexpected render:\n%s\nwant:\n%s", got, want)
	}
}

func TestParseInvertsRender(t *testing.T) {
	t.Parallel()

	tr := New("x", 4000, []Segment{
		{Start: 3723.456, End: 3725.001, SpeakerID: "a", Text: "over an hour in"},
		{Start: 3726, End: 3727.5, SpeakerID: "b", Text: "times: with colons"},
		{Start: 3728, End: 3729, SpeakerID: "a", Failed: true},
	})
	tr.SetName("b", "Dr. Who")

	lines, err := Parse(Render(tr))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(lines) != len(tr.Segments) {
		t.Fatalf("unexpected line count: %d", len(lines))
	}
	for i, l := range lines {
		s := tr.Segments[i]
		if math.Abs(l.Start-s.Start) > 5e-4 || math.Abs(l.End-s.End) > 5e-4 {
			t.Fatalf("line %d: unexpected times %v-%v", i, l.Start, l.End)
		}
		if l.Speaker != tr.DisplayName(s.SpeakerID) || l.Text != s.Text || l.Failed != s.Failed {
			t.Fatalf("line %d: unexpected line %+v for segment %+v", i, l, s)
		}
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	t.Parallel()

	if _, err := Parse("not a transcript\n"); err == nil {
		t.Fatalf("expected error")
	}
	lines, err := Parse("\n\n")
	if err != nil || len(lines) != 0 {
		t.Fatalf("unexpected result for blank input: %v %v", lines, err)
	}
}

func TestFormatTimestamp(t *testing.T) {
	t.Parallel()

	cases := map[float64]string{
		0:        "00:00:00.000",
		1.5:      "00:00:01.500",
		59.9996:  "00:01:00.000",
		3661.042: "01:01:01.042",
		-3:       "00:00:00.000",
	}
	for in, want := range cases {
		if got := FormatTimestamp(in); got != want {
			t.Fatalf("FormatTimestamp(%v) = %q, want %q", in, got, want)
		}
	}
}

func TestPersistWritesAtomically(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	dest := filepath.Join(dir, "out", "meeting_transcript.txt")
	tr := sample()

	if err := Persist(tr, dest); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != Render(tr) {
		t.Fatalf("unexpected file content:\n%s", data)
	}

	entries, err := os.ReadDir(filepath.Dir(dest))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected only the transcript, found %d entries", len(entries))
	}
}

func TestPersistFailureLeavesDestination(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	dest := filepath.Join(dir, "existing")
	if err := os.Mkdir(dest, 0o755); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dest, "keep"), []byte("x"), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := Persist(sample(), dest)
	if !errors.Is(err, ErrWriteFailure) {
		t.Fatalf("expected ErrWriteFailure, got %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected temp file to be removed, found %d entries", len(entries))
	}
	if _, err := os.Stat(filepath.Join(dest, "keep")); err != nil {
		t.Fatalf("expected destination untouched: %v", err)
	}
}

func TestDefaultPath(t *testing.T) {
	t.Parallel()

	if got := DefaultPath("/tmp/calls/standup.m4a", "transcripts"); got != filepath.Join("transcripts", "standup_transcript.txt") {
		t.Fatalf("unexpected path: %q", got)
	}
	if got := DefaultPath("memory:recording_20240101", "."); got != "recording_20240101_transcript.txt" {
		t.Fatalf("unexpected path: %q", got)
	}
}
