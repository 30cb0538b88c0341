package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/yegors/diarscribe/internal/transcript"
	"github.com/yegors/diarscribe/pkg/logger"
)

// TranscriptStorage handles storage of transcripts. Speakers are stored by ordinal and
// name only; diarization cluster ids are not persisted.
type TranscriptStorage struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewTranscriptStorage creates a new SQLite transcript storage
func NewTranscriptStorage(db *sql.DB, logger *logger.Logger) (*TranscriptStorage, error) {
	storage := &TranscriptStorage{
		db:     db,
		logger: logger.Named("sqlite-transcripts"),
	}

	if err := storage.initDB(); err != nil {
		return nil, err
	}

	return storage, nil
}

// initDB initializes the database tables
func (s *TranscriptStorage) initDB() error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS transcripts (
			id TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			duration REAL NOT NULL,
			noise_reduction REAL NOT NULL DEFAULT 0,
			voice_clarity REAL NOT NULL DEFAULT 0,
			normalization_target REAL NOT NULL DEFAULT 0,
			failed_count INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS transcript_speakers (
			transcript_id TEXT NOT NULL,
			ordinal INTEGER NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (transcript_id, ordinal),
			FOREIGN KEY (transcript_id) REFERENCES transcripts(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS transcript_segments (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			transcript_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			start_time REAL NOT NULL,
			end_time REAL NOT NULL,
			speaker_ordinal INTEGER NOT NULL,
			text TEXT NOT NULL,
			confidence REAL NOT NULL,
			failed INTEGER NOT NULL DEFAULT 0,
			failure TEXT,
			FOREIGN KEY (transcript_id) REFERENCES transcripts(id) ON DELETE CASCADE
		)`,
	}
	for _, tableSQL := range tables {
		if _, err := s.db.Exec(tableSQL); err != nil {
			return fmt.Errorf("failed to create transcript tables: %w", err)
		}
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_transcripts_created_at ON transcripts(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_segments_transcript_id ON transcript_segments(transcript_id, position)`,
	}
	for _, indexSQL := range indexes {
		if _, err := s.db.Exec(indexSQL); err != nil {
			return fmt.Errorf("failed to create transcript index: %w", err)
		}
	}

	return nil
}

// StoreTranscript stores a transcript with its speakers and segments
func (s *TranscriptStorage) StoreTranscript(ctx context.Context, t *transcript.Transcript) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	createdAt := t.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO transcripts
		(id, source, duration, noise_reduction, voice_clarity, normalization_target, failed_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID,
		t.Source,
		t.Duration,
		t.Enhancement.NoiseReduction,
		t.Enhancement.VoiceClarity,
		t.Enhancement.NormalizationTarget,
		t.FailedCount(),
		createdAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("failed to insert transcript: %w", err)
	}

	for _, id := range t.SpeakerIDs() {
		label, _ := t.Label(id)
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO transcript_speakers (transcript_id, ordinal, name) VALUES (?, ?, ?)`,
			t.ID, label.Ordinal, label.Name,
		); err != nil {
			return fmt.Errorf("failed to insert speaker: %w", err)
		}
	}

	for i, seg := range t.Segments {
		label, _ := t.Label(seg.SpeakerID)
		var failure sql.NullString
		if seg.Failure != "" {
			failure = sql.NullString{String: seg.Failure, Valid: true}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO transcript_segments
			(transcript_id, position, start_time, end_time, speaker_ordinal, text, confidence, failed, failure)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, i, seg.Start, seg.End, label.Ordinal, seg.Text, seg.Confidence, seg.Failed, failure,
		); err != nil {
			return fmt.Errorf("failed to insert segment: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transcript: %w", err)
	}

	s.logger.Debug("Stored transcript",
		logger.String("transcript_id", t.ID),
		logger.Int("segments", len(t.Segments)))
	return nil
}

// GetTranscript loads a transcript. Speaker ids are rebuilt from ordinals.
func (s *TranscriptStorage) GetTranscript(ctx context.Context, id string) (*transcript.Transcript, error) {
	t := &transcript.Transcript{ID: id, Speakers: make(map[string]transcript.SpeakerLabel)}
	var createdAt string

	err := s.db.QueryRowContext(ctx,
		`SELECT source, duration, noise_reduction, voice_clarity, normalization_target, created_at
		FROM transcripts WHERE id = ?`, id,
	).Scan(&t.Source, &t.Duration,
		&t.Enhancement.NoiseReduction, &t.Enhancement.VoiceClarity, &t.Enhancement.NormalizationTarget,
		&createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: transcript %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query transcript: %w", err)
	}
	if t.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}

	speakerRows, err := s.db.QueryContext(ctx,
		`SELECT ordinal, name FROM transcript_speakers WHERE transcript_id = ? ORDER BY ordinal`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query speakers: %w", err)
	}
	defer speakerRows.Close()
	for speakerRows.Next() {
		var label transcript.SpeakerLabel
		if err := speakerRows.Scan(&label.Ordinal, &label.Name); err != nil {
			return nil, fmt.Errorf("failed to scan speaker: %w", err)
		}
		t.Speakers[speakerKey(label.Ordinal)] = label
	}
	if err := speakerRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read speakers: %w", err)
	}

	segmentRows, err := s.db.QueryContext(ctx,
		`SELECT start_time, end_time, speaker_ordinal, text, confidence, failed, failure
		FROM transcript_segments WHERE transcript_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query segments: %w", err)
	}
	defer segmentRows.Close()
	for segmentRows.Next() {
		var seg transcript.Segment
		var ordinal int
		var failure sql.NullString
		if err := segmentRows.Scan(&seg.Start, &seg.End, &ordinal, &seg.Text, &seg.Confidence, &seg.Failed, &failure); err != nil {
			return nil, fmt.Errorf("failed to scan segment: %w", err)
		}
		seg.SpeakerID = speakerKey(ordinal)
		if failure.Valid {
			seg.Failure = failure.String
		}
		t.Segments = append(t.Segments, seg)
	}
	if err := segmentRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read segments: %w", err)
	}

	return t, nil
}

// ListTranscripts returns the most recent transcripts
func (s *TranscriptStorage) ListTranscripts(ctx context.Context, limit int) ([]*TranscriptRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT t.id, t.source, t.duration, t.failed_count, t.created_at,
			(SELECT COUNT(*) FROM transcript_segments g WHERE g.transcript_id = t.id),
			(SELECT COUNT(*) FROM transcript_speakers p WHERE p.transcript_id = t.id)
		FROM transcripts t
		ORDER BY t.created_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query transcripts: %w", err)
	}
	defer rows.Close()

	var records []*TranscriptRecord
	for rows.Next() {
		var record TranscriptRecord
		var createdAt string
		if err := rows.Scan(&record.ID, &record.Source, &record.Duration, &record.FailedCount, &createdAt,
			&record.SegmentCount, &record.SpeakerCount); err != nil {
			return nil, fmt.Errorf("failed to scan transcript: %w", err)
		}
		if record.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}
		records = append(records, &record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read transcripts: %w", err)
	}
	return records, nil
}

// RenameSpeaker sets the name of the speaker holding ordinal in a stored transcript
func (s *TranscriptStorage) RenameSpeaker(ctx context.Context, id string, ordinal int, name string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE transcript_speakers SET name = ? WHERE transcript_id = ? AND ordinal = ?`,
		name, id, ordinal)
	if err != nil {
		return fmt.Errorf("failed to rename speaker: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: speaker %d of transcript %s", ErrNotFound, ordinal, id)
	}
	return nil
}

// DeleteTranscript removes a transcript and its rows
func (s *TranscriptStorage) DeleteTranscript(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM transcripts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete transcript: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: transcript %s", ErrNotFound, id)
	}
	return nil
}

// speakerKey is the session id given to a speaker loaded from storage
func speakerKey(ordinal int) string {
	return fmt.Sprintf("S%d", ordinal)
}

