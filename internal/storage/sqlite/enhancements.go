package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/yegors/diarscribe/internal/enhance"
	"github.com/yegors/diarscribe/pkg/logger"
)

// EnhancementStorage caches enhancement search results
type EnhancementStorage struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewEnhancementStorage creates a new SQLite enhancement cache
func NewEnhancementStorage(db *sql.DB, logger *logger.Logger) (*EnhancementStorage, error) {
	storage := &EnhancementStorage{
		db:     db,
		logger: logger.Named("sqlite-enhance"),
	}

	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS enhancement_cache (
			key TEXT PRIMARY KEY,
			noise_reduction REAL NOT NULL,
			voice_clarity REAL NOT NULL,
			normalization_target REAL NOT NULL,
			score REAL NOT NULL,
			accepted INTEGER NOT NULL,
			created_at TEXT NOT NULL
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create enhancement_cache table: %w", err)
	}

	return storage, nil
}

// Config returns the cached enhancement configuration
func (r *EnhancementRecord) Config() enhance.Config {
	return enhance.Config{
		NoiseReduction:      r.NoiseReduction,
		VoiceClarity:        r.VoiceClarity,
		NormalizationTarget: r.NormalizationTarget,
	}
}

// GetEnhancement returns the cached result for key
func (s *EnhancementStorage) GetEnhancement(ctx context.Context, key string) (*EnhancementRecord, error) {
	record := EnhancementRecord{Key: key}
	var createdAt string

	err := s.db.QueryRowContext(ctx,
		`SELECT noise_reduction, voice_clarity, normalization_target, score, accepted, created_at
		FROM enhancement_cache WHERE key = ?`, key,
	).Scan(&record.NoiseReduction, &record.VoiceClarity, &record.NormalizationTarget,
		&record.Score, &record.Accepted, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: enhancement %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query enhancement: %w", err)
	}
	if record.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	return &record, nil
}

// StoreEnhancement inserts or replaces a cached result
func (s *EnhancementStorage) StoreEnhancement(ctx context.Context, record *EnhancementRecord) error {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO enhancement_cache
		(key, noise_reduction, voice_clarity, normalization_target, score, accepted, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			noise_reduction = excluded.noise_reduction,
			voice_clarity = excluded.voice_clarity,
			normalization_target = excluded.normalization_target,
			score = excluded.score,
			accepted = excluded.accepted,
			created_at = excluded.created_at`,
		record.Key,
		record.NoiseReduction,
		record.VoiceClarity,
		record.NormalizationTarget,
		record.Score,
		record.Accepted,
		record.CreatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("failed to store enhancement: %w", err)
	}
	s.logger.Debug("Cached enhancement", logger.String("key", record.Key), logger.Float64("score", record.Score))
	return nil
}
