package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/yegors/diarscribe/internal/audio"
	"github.com/yegors/diarscribe/internal/config"
	"github.com/yegors/diarscribe/internal/diarization"
	"github.com/yegors/diarscribe/internal/enhance"
	"github.com/yegors/diarscribe/internal/models"
	"github.com/yegors/diarscribe/internal/pipeline"
	"github.com/yegors/diarscribe/internal/storage/sqlite"
	"github.com/yegors/diarscribe/internal/stt"
	"github.com/yegors/diarscribe/internal/transcription"
	"github.com/yegors/diarscribe/pkg/logger"
)

// App wires the configured collaborators together
type App struct {
	Config           *config.Config
	Logger           *logger.Logger
	Store            *audio.Store
	Enhancer         *enhance.Enhancer
	Diarizer         *models.Shared[diarization.Model]
	Recognizer       *models.Shared[stt.Recognizer]
	Transcripts      *sqlite.TranscriptStorage
	EnhancementCache *sqlite.EnhancementStorage
	Pipeline         *pipeline.Pipeline

	db *sql.DB
}

// New builds the application. Model collaborators are loaded on first use, so a
// missing credential surfaces when a transcription starts rather than here.
func New(cfg *config.Config, log *logger.Logger) (*App, error) {
	db, err := sqlite.Open(cfg.Storage.DatabasePath, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	transcripts, err := sqlite.NewTranscriptStorage(db, log)
	if err != nil {
		db.Close()
		return nil, err
	}
	cache, err := sqlite.NewEnhancementStorage(db, log)
	if err != nil {
		db.Close()
		return nil, err
	}

	a := &App{
		Config:           cfg,
		Logger:           log,
		Store:            audio.NewStore(audio.StoreConfig{WorkDir: cfg.Audio.WorkDir, FFmpegPath: cfg.Audio.FFmpegPath}, log),
		Transcripts:      transcripts,
		EnhancementCache: cache,
		db:               db,
	}
	a.Enhancer = enhance.NewEnhancer(enhance.SearchOptions{
		CorrelationWeight:  cfg.Enhancement.CorrelationWeight,
		ContrastScaleDB:    cfg.Enhancement.ContrastScaleDB,
		TieTolerance:       cfg.Enhancement.TieTolerance,
		MinScore:           cfg.Enhancement.MinScore,
		MaxAnalysisSeconds: cfg.Enhancement.MaxAnalysisSeconds,
	}, log)
	a.Diarizer = models.NewShared("diarization", a.loadDiarizer, nil, log)
	a.Recognizer = models.NewShared("recognizer", a.loadRecognizer, nil, log)

	size, err := stt.ParseModelSize(cfg.Transcription.ModelSize)
	if err != nil {
		db.Close()
		return nil, err
	}
	a.Pipeline = pipeline.New(pipeline.Dependencies{
		Store:            a.Store,
		Enhancer:         a.Enhancer,
		Diarizer:         a.Diarizer,
		Recognizer:       a.Recognizer,
		Transcripts:      transcripts,
		EnhancementCache: cache,
		Sinks:            []pipeline.EventSink{pipeline.NewLogSink(log)},
	}, pipeline.Config{
		SampleRate: cfg.Audio.SampleRate,
		Diarization: diarization.Config{
			MergeGapSeconds: cfg.Diarization.MergeGapSeconds,
		},
		Transcription: transcription.Config{
			Model:           size,
			Language:        cfg.Transcription.Language,
			MaxBatchSeconds: cfg.Transcription.MaxBatchSeconds,
			SliceGapSeconds: cfg.Transcription.SliceGapSeconds,
			MergeGapSeconds: cfg.Transcription.MergeGapSeconds,
			BatchTimeout:    time.Duration(cfg.Transcription.BatchTimeoutSeconds) * time.Second,
		},
	}, log)

	return a, nil
}

// Options returns run options for the configured enhancement defaults
func (a *App) Options() pipeline.Options {
	opts := pipeline.Options{Enhance: pipeline.EnhanceOff, Store: true}
	if a.Config.Enhancement.Enabled {
		opts.Enhance = pipeline.EnhanceFixed
		if a.Config.Enhancement.Search {
			opts.Enhance = pipeline.EnhanceSearch
		}
	}
	opts.EnhanceConfig = enhance.Config{
		NoiseReduction:      a.Config.Enhancement.NoiseReduction,
		VoiceClarity:        a.Config.Enhancement.VoiceClarity,
		NormalizationTarget: a.Config.Enhancement.NormalizationTarget,
	}
	return opts
}

func (a *App) loadDiarizer(ctx context.Context) (diarization.Model, error) {
	cfg := a.Config.Diarization
	switch cfg.Backend {
	case "pyannote":
		return diarization.NewPyannoteClient(diarization.PyannoteConfig{
			URL:            cfg.URL,
			Token:          cfg.Token,
			TimeoutSeconds: cfg.TimeoutSeconds,
		}, a.Logger)
	case "aws":
		return diarization.NewTranscribeDiarizer(ctx, diarization.TranscribeConfig{
			Region:       cfg.AWSRegion,
			Bucket:       cfg.AWSBucket,
			LanguageCode: cfg.AWSLanguage,
			MaxSpeakers:  cfg.AWSMaxSpeakers,
			PollSeconds:  cfg.PollSeconds,
		}, a.Logger)
	case "energy":
		return diarization.NewEnergyDiarizer(diarization.EnergyConfig{
			SilenceThreshold:  cfg.SilenceThreshold,
			SpeakerGapSeconds: cfg.SpeakerGapSeconds,
		}, a.Logger), nil
	default:
		return nil, fmt.Errorf("%w: unsupported backend %s", diarization.ErrDiarizationUnavailable, cfg.Backend)
	}
}

func (a *App) loadRecognizer(context.Context) (stt.Recognizer, error) {
	cfg := a.Config.Transcription
	return stt.NewOpenAIRecognizer(stt.Config{
		Backend:        cfg.Backend,
		APIKey:         cfg.APIKey,
		BaseURL:        cfg.BaseURL,
		Language:       cfg.Language,
		MaxRetries:     cfg.MaxRetries,
		TimeoutSeconds: cfg.BatchTimeoutSeconds,
		Models:         cfg.Models,
	}, a.Logger)
}

// Close shuts the shared models down and closes the database
func (a *App) Close() error {
	if err := a.Diarizer.Shutdown(); err != nil {
		a.Logger.Warn("Failed to shut down diarizer", logger.Error(err))
	}
	if err := a.Recognizer.Shutdown(); err != nil {
		a.Logger.Warn("Failed to shut down recognizer", logger.Error(err))
	}
	return a.db.Close()
}
