package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/yegors/diarscribe/internal/audio"
	"github.com/yegors/diarscribe/internal/diarization"
	"github.com/yegors/diarscribe/internal/enhance"
	"github.com/yegors/diarscribe/internal/models"
	"github.com/yegors/diarscribe/internal/speakers"
	"github.com/yegors/diarscribe/internal/storage/sqlite"
	"github.com/yegors/diarscribe/internal/stt"
	"github.com/yegors/diarscribe/internal/transcript"
	"github.com/yegors/diarscribe/internal/transcription"
	"github.com/yegors/diarscribe/pkg/logger"
)

// Dependencies holds the collaborators a pipeline runs with. Storage fields are
// optional.
type Dependencies struct {
	Store            *audio.Store
	Enhancer         *enhance.Enhancer
	Diarizer         *models.Shared[diarization.Model]
	Recognizer       *models.Shared[stt.Recognizer]
	Transcripts      *sqlite.TranscriptStorage
	EnhancementCache *sqlite.EnhancementStorage
	Sinks            []EventSink
}

// Pipeline turns a recording into a speaker-attributed transcript
type Pipeline struct {
	deps   Dependencies
	config Config
	logger *logger.Logger
}

// New creates a new pipeline
func New(deps Dependencies, config Config, log *logger.Logger) *Pipeline {
	if config.SampleRate <= 0 {
		config.SampleRate = 16000
	}
	config.Diarization.SampleRate = config.SampleRate
	if deps.Store == nil {
		deps.Store = audio.NewStore(audio.StoreConfig{}, log)
	}
	if deps.Enhancer == nil {
		deps.Enhancer = enhance.NewEnhancer(enhance.DefaultSearchOptions(), log)
	}
	return &Pipeline{
		deps:   deps,
		config: config,
		logger: log.Named("pipeline"),
	}
}

// AddSink registers an additional event sink. It must be called before the pipeline
// is shared between goroutines.
func (p *Pipeline) AddSink(sink EventSink) {
	p.deps.Sinks = append(p.deps.Sinks, sink)
}

// Run loads the recording at source and transcribes it
func (p *Pipeline) Run(ctx context.Context, source string, opts Options) (*Result, error) {
	if opts.SessionID == "" {
		opts.SessionID = uuid.NewString()
	}

	p.emit(opts.SessionID, StageLoad, "Loading audio", map[string]interface{}{"source": source})
	asset, err := p.deps.Store.Load(ctx, source)
	if err != nil {
		return nil, p.fail(opts.SessionID, StageLoad, err)
	}
	defer p.deps.Store.Cleanup(asset)

	return p.RunAsset(ctx, asset, opts)
}

// RunAsset transcribes an already decoded asset
func (p *Pipeline) RunAsset(ctx context.Context, asset *audio.Asset, opts Options) (*Result, error) {
	start := time.Now()
	if opts.SessionID == "" {
		opts.SessionID = uuid.NewString()
	}
	session := opts.SessionID
	log := p.logger.WithSession(session)

	log.Info("Starting transcription",
		logger.String("source", asset.Source),
		logger.Float64("duration", asset.Duration()),
		logger.String("enhance", string(opts.Enhance)))

	model, err := p.deps.Diarizer.Acquire(ctx)
	if err != nil {
		return nil, p.fail(session, StageDiarize, fmt.Errorf("failed to load diarization model: %w", err))
	}
	defer p.release("diarization", p.deps.Diarizer.Release, log)

	recognizer, err := p.deps.Recognizer.Acquire(ctx)
	if err != nil {
		return nil, p.fail(session, StageTranscribe, fmt.Errorf("failed to load recognizer: %w", err))
	}
	defer p.release("recognizer", p.deps.Recognizer.Release, log)

	p.emit(session, StageConvert, "Converting to canonical format", map[string]interface{}{
		"sample_rate": p.config.SampleRate,
		"channels":    1,
	})
	canonical, err := p.deps.Store.Convert(ctx, asset, p.config.SampleRate, 1)
	if err != nil {
		return nil, p.fail(session, StageConvert, err)
	}
	if canonical != asset {
		defer p.deps.Store.Cleanup(canonical)
	}

	enhanced, enhancement, err := p.enhance(ctx, session, canonical, opts)
	if err != nil {
		return nil, p.fail(session, StageEnhance, err)
	}

	p.emit(session, StageDiarize, "Identifying speakers", nil)
	adapter := diarization.NewAdapter(model, p.deps.Store, p.config.Diarization, log)
	turns, err := adapter.Diarize(ctx, enhanced)
	if err != nil {
		return nil, p.fail(session, StageDiarize, err)
	}

	tcfg := p.config.Transcription
	if opts.Model != "" {
		tcfg.Model = opts.Model
	}
	engine := transcription.NewEngine(recognizer, tcfg, log)
	engine.SetProgress(func(e transcription.BatchEvent) {
		p.emit(session, StageTranscribe, "Transcribed batch", map[string]interface{}{
			"batch":   e.Batch,
			"batches": e.Batches,
			"turns":   e.Turns,
			"failed":  e.Failed,
			"retried": e.Retried,
		})
	})
	p.emit(session, StageTranscribe, "Transcribing speech", map[string]interface{}{"turns": len(turns)})
	t, err := engine.Transcribe(ctx, enhanced, turns)
	if err != nil {
		return nil, p.fail(session, StageTranscribe, err)
	}
	t.Source = asset.Source
	if opts.Source != "" {
		t.Source = opts.Source
	}
	t.Enhancement = enhancement

	p.emit(session, StageName, "Naming speakers", map[string]interface{}{"speakers": len(t.Speakers)})
	if err := speakers.NewRegistry(opts.Prompter, log).NameInteractively(ctx, t); err != nil {
		return nil, p.fail(session, StageName, err)
	}

	result := &Result{SessionID: session, Transcript: t, Enhancement: enhancement}

	if opts.Store {
		if p.deps.Transcripts == nil {
			log.Warn("Transcript storage is not configured, skipping store")
		} else {
			p.emit(session, StageStore, "Storing transcript", map[string]interface{}{"transcript_id": t.ID})
			if err := p.deps.Transcripts.StoreTranscript(ctx, t); err != nil {
				return nil, p.fail(session, StageStore, err)
			}
			result.Stored = true
		}
	}

	if opts.OutputPath != "" {
		p.emit(session, StagePersist, "Writing transcript", map[string]interface{}{"path": opts.OutputPath})
		if err := transcript.Persist(t, opts.OutputPath); err != nil {
			return nil, p.fail(session, StagePersist, err)
		}
		result.OutputPath = opts.OutputPath
	}

	result.Elapsed = time.Since(start)
	p.emit(session, StageDone, "Transcription complete", map[string]interface{}{
		"transcript_id": t.ID,
		"segments":      len(t.Segments),
		"speakers":      len(t.Speakers),
		"failed":        t.FailedCount(),
	})
	log.Info("Transcription finished",
		logger.String("transcript_id", t.ID),
		logger.Int("segments", len(t.Segments)),
		logger.Int("failed_segments", t.FailedCount()),
		logger.Duration("elapsed", result.Elapsed))

	return result, nil
}

// enhance applies the enhancement stage selected by opts and returns the asset to
// diarize together with the config that was applied.
func (p *Pipeline) enhance(ctx context.Context, session string, asset *audio.Asset, opts Options) (*audio.Asset, enhance.Config, error) {
	var cfg enhance.Config
	switch opts.Enhance {
	case "", EnhanceOff:
		return asset, enhance.Config{}, nil
	case EnhanceFixed:
		cfg = opts.EnhanceConfig.Clamp()
	case EnhanceSearch:
		p.emit(session, StageEnhance, "Searching enhancement parameters", nil)
		var err error
		if cfg, err = p.searchConfig(ctx, asset, opts.Grid); err != nil {
			return nil, enhance.Config{}, err
		}
	default:
		return nil, enhance.Config{}, fmt.Errorf("unknown enhancement mode %q", opts.Enhance)
	}

	p.emit(session, StageEnhance, "Enhancing audio", map[string]interface{}{"config": cfg.String()})
	out, err := p.deps.Enhancer.Enhance(asset, cfg)
	if err != nil {
		return nil, enhance.Config{}, fmt.Errorf("failed to enhance audio: %w", err)
	}
	return out, cfg, nil
}

// searchConfig returns the best enhancement config for asset, consulting the cache
// first when one is configured.
func (p *Pipeline) searchConfig(ctx context.Context, asset *audio.Asset, grid []enhance.Config) (enhance.Config, error) {
	key := asset.Fingerprint() + ":" + p.deps.Enhancer.GridKey(grid)

	if p.deps.EnhancementCache != nil {
		record, err := p.deps.EnhancementCache.GetEnhancement(ctx, key)
		switch {
		case err == nil:
			p.logger.Debug("Using cached enhancement config",
				logger.String("config", record.Config().String()),
				logger.Float64("score", record.Score))
			return record.Config(), nil
		case !errors.Is(err, sqlite.ErrNotFound):
			p.logger.Warn("Failed to read enhancement cache", logger.Error(err))
		}
	}

	result, err := p.deps.Enhancer.SearchBestConfig(asset, grid)
	if err != nil {
		return enhance.Config{}, fmt.Errorf("failed to search enhancement parameters: %w", err)
	}

	if p.deps.EnhancementCache != nil {
		record := &sqlite.EnhancementRecord{
			Key:                 key,
			NoiseReduction:      result.Config.NoiseReduction,
			VoiceClarity:        result.Config.VoiceClarity,
			NormalizationTarget: result.Config.NormalizationTarget,
			Score:               result.Score,
			Accepted:            result.Accepted,
		}
		if err := p.deps.EnhancementCache.StoreEnhancement(ctx, record); err != nil {
			p.logger.Warn("Failed to cache enhancement config", logger.Error(err))
		}
	}
	return result.Config, nil
}

func (p *Pipeline) release(name string, release func() error, log *logger.Logger) {
	if err := release(); err != nil {
		log.Warn("Failed to release model", logger.String("model", name), logger.Error(err))
	}
}

func (p *Pipeline) emit(session, stage, message string, data map[string]interface{}) {
	e := Event{
		SessionID: session,
		Stage:     stage,
		Message:   message,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
	for _, sink := range p.deps.Sinks {
		sink.Emit(e)
	}
}

func (p *Pipeline) fail(session, stage string, err error) error {
	p.emit(session, StageFailed, err.Error(), map[string]interface{}{"stage": stage})
	return err
}
