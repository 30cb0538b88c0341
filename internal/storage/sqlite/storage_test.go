package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/yegors/diarscribe/internal/enhance"
	"github.com/yegors/diarscribe/internal/transcript"
	"github.com/yegors/diarscribe/pkg/logger"
)

func openTest(t *testing.T) (*TranscriptStorage, *EnhancementStorage) {
	t.Helper()
	db, err := Open(MemoryPath, logger.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ts, err := NewTranscriptStorage(db, logger.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	es, err := NewEnhancementStorage(db, logger.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return ts, es
}

func sampleTranscript() *transcript.Transcript {
	tr := transcript.New("standup.wav", 42.5, []transcript.Segment{
		{Start: 0, End: 4, SpeakerID: "SPEAKER_03", Text: "good morning", Confidence: 0.9},
		{Start: 4, End: 9, SpeakerID: "SPEAKER_00", Text: "hi there", Confidence: 0.7},
		{Start: 9, End: 12, SpeakerID: "SPEAKER_03", Failed: true, Failure: "transcription failed: timeout"},
	})
	tr.SetName("SPEAKER_00", "Priya")
	tr.Enhancement = enhance.Config{NoiseReduction: 0.5, NormalizationTarget: 0.9}
	return tr
}

func TestTranscriptRoundTrip(t *testing.T) {
	t.Parallel()

	ts, _ := openTest(t)
	ctx := context.Background()
	tr := sampleTranscript()

	if err := ts.StoreTranscript(ctx, tr); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := ts.GetTranscript(ctx, tr.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got.Source != tr.Source || got.Duration != tr.Duration || got.Enhancement != tr.Enhancement {
		t.Fatalf("unexpected header: %+v", got)
	}
	if transcript.Render(got) != transcript.Render(tr) {
		t.Fatalf("render differs after round trip:\n%s\nwant:\n%s", transcript.Render(got), transcript.Render(tr))
	}
	for id := range got.Speakers {
		if id == "SPEAKER_00" || id == "SPEAKER_03" {
			t.Fatalf("cluster id %q should not be persisted", id)
		}
	}
	if !got.Segments[2].Failed || got.Segments[2].Failure == "" {
		t.Fatalf("failure annotation lost: %+v", got.Segments[2])
	}
	if !got.CreatedAt.Equal(tr.CreatedAt) {
		t.Fatalf("unexpected created_at: %v want %v", got.CreatedAt, tr.CreatedAt)
	}
}

func TestGetTranscriptNotFound(t *testing.T) {
	t.Parallel()

	ts, _ := openTest(t)
	if _, err := ts.GetTranscript(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRenameSpeakerAndList(t *testing.T) {
	t.Parallel()

	ts, _ := openTest(t)
	ctx := context.Background()

	older := sampleTranscript()
	older.CreatedAt = time.Now().Add(-time.Hour).UTC()
	newer := sampleTranscript()
	for _, tr := range []*transcript.Transcript{older, newer} {
		if err := ts.StoreTranscript(ctx, tr); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if err := ts.RenameSpeaker(ctx, older.ID, 1, "Sam"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ts.RenameSpeaker(ctx, older.ID, 1, "Sam"); err != nil {
		t.Fatalf("rename should be idempotent: %v", err)
	}
	if err := ts.RenameSpeaker(ctx, older.ID, 7, "Nobody"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	got, err := ts.GetTranscript(ctx, older.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.DisplayName(got.Segments[0].SpeakerID) != "Sam" {
		t.Fatalf("rename not persisted: %s", transcript.Render(got))
	}

	records, err := ts.ListTranscripts(ctx, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 2 || records[0].ID != newer.ID {
		t.Fatalf("unexpected list: %+v", records)
	}
	if records[1].SegmentCount != 3 || records[1].SpeakerCount != 2 || records[1].FailedCount != 1 {
		t.Fatalf("unexpected counts: %+v", records[1])
	}

	if err := ts.DeleteTranscript(ctx, older.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := ts.GetTranscript(ctx, older.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected deleted transcript to be gone, got %v", err)
	}
}

func TestEnhancementCache(t *testing.T) {
	t.Parallel()

	_, es := openTest(t)
	ctx := context.Background()

	if _, err := es.GetEnhancement(ctx, "abc"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	rec := &EnhancementRecord{Key: "abc", NoiseReduction: 0.25, VoiceClarity: 0.5, Score: 0.61, Accepted: true}
	if err := es.StoreEnhancement(ctx, rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rec.Score = 0.7
	if err := es.StoreEnhancement(ctx, rec); err != nil {
		t.Fatalf("unexpected error on replace: %v", err)
	}

	got, err := es.GetEnhancement(ctx, "abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Score != 0.7 || !got.Accepted || got.Config() != (enhance.Config{NoiseReduction: 0.25, VoiceClarity: 0.5}) {
		t.Fatalf("unexpected record: %+v", got)
	}
}

func TestOpenFileDatabase(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "diarscribe.db")
	db, err := Open(path, logger.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer db.Close()

	if _, err := NewTranscriptStorage(db, logger.NewNop()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
