package transcription

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/yegors/diarscribe/internal/audio"
	"github.com/yegors/diarscribe/internal/diarization"
	"github.com/yegors/diarscribe/internal/stt"
	"github.com/yegors/diarscribe/internal/transcript"
	"github.com/yegors/diarscribe/pkg/logger"
)

// Engine transcribes diarized turns in batches through a speech-to-text collaborator
type Engine struct {
	recognizer stt.Recognizer
	config     Config
	logger     *logger.Logger
	progress   func(BatchEvent)
}

// NewEngine creates a new transcription engine
func NewEngine(recognizer stt.Recognizer, config Config, logger *logger.Logger) *Engine {
	def := DefaultConfig()
	if config.Model == "" {
		config.Model = def.Model
	}
	if config.MaxBatchSeconds <= 0 {
		config.MaxBatchSeconds = def.MaxBatchSeconds
	}
	if config.SliceGapSeconds < 0 {
		config.SliceGapSeconds = def.SliceGapSeconds
	}
	if config.MergeGapSeconds < 0 {
		config.MergeGapSeconds = def.MergeGapSeconds
	}
	if config.BatchTimeout <= 0 {
		config.BatchTimeout = def.BatchTimeout
	}
	return &Engine{
		recognizer: recognizer,
		config:     config,
		logger:     logger.Named("transcription"),
	}
}

// SetProgress registers a callback invoked after every batch
func (e *Engine) SetProgress(fn func(BatchEvent)) {
	e.progress = fn
}

// Transcribe recognizes the speech of every turn and returns the merged transcript.
// Batches that fail twice degrade to failed segments; cancellation of ctx aborts.
func (e *Engine) Transcribe(ctx context.Context, asset *audio.Asset, turns []diarization.Turn) (*transcript.Transcript, error) {
	if asset.SampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", asset.SampleRate)
	}
	turns = validTurns(turns)
	plan := planBatches(turns, e.config.MaxBatchSeconds, e.config.SliceGapSeconds)

	e.logger.Info("Transcribing",
		logger.String("asset_id", asset.ID),
		logger.Int("turns", len(turns)),
		logger.Int("batches", len(plan)),
		logger.String("model", string(e.config.Model)))

	results := make([]turnText, len(turns))
	for n, idxs := range plan {
		retried, err := e.runBatch(ctx, asset, turns, idxs, results)
		if err != nil {
			return nil, err
		}

		failed := 0
		for _, i := range idxs {
			if results[i].failed {
				failed++
			}
		}
		if e.progress != nil {
			e.progress(BatchEvent{
				Batch:     n + 1,
				Batches:   len(plan),
				Turns:     len(idxs),
				Failed:    failed,
				Retried:   retried,
				Timestamp: time.Now(),
			})
		}
	}

	segments := make([]transcript.Segment, 0, len(turns))
	var failures []transcript.Failure
	for i, t := range turns {
		r := results[i]
		seg := transcript.Segment{Start: t.Start, End: t.End, SpeakerID: t.Speaker}
		if r.failed {
			seg.Failed = true
			seg.Failure = r.err.Error()
			failures = append(failures, transcript.Failure{Start: t.Start, End: t.End, Turns: 1, Err: r.err})
		} else {
			seg.Text = strings.Join(r.parts, " ")
			if r.weight > 0 {
				seg.Confidence = r.confidence / r.weight
			}
		}
		segments = append(segments, seg)
	}

	t := transcript.New(asset.Source, asset.Duration(), PostProcess(segments, e.config.MergeGapSeconds))
	t.Failures = failures

	e.logger.Info("Transcription complete",
		logger.Int("segments", len(t.Segments)),
		logger.Int("speakers", len(t.Speakers)),
		logger.Int("failed_turns", len(failures)))
	return t, nil
}

// runBatch recognizes one planned batch. On failure the batch is retried once as two
// halves; turns of a half that fails again are marked failed. Only cancellation of
// the parent context is returned as an error.
func (e *Engine) runBatch(ctx context.Context, asset *audio.Asset, turns []diarization.Turn, idxs []int, results []turnText) (bool, error) {
	err := e.attempt(ctx, asset, turns, idxs, results)
	if err == nil {
		return false, nil
	}
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	e.logger.Warn("Batch failed, retrying at half size",
		logger.Int("turns", len(idxs)),
		logger.Float64("start", turns[idxs[0]].Start),
		logger.Error(err))

	for _, half := range halves(idxs) {
		err := e.attempt(ctx, asset, turns, half, results)
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return true, ctx.Err()
		}
		first, last := turns[half[0]], turns[half[len(half)-1]]
		e.logger.Error("Batch failed after retry",
			logger.Int("turns", len(half)),
			logger.Float64("start", first.Start),
			logger.Float64("end", last.End),
			logger.Error(err))

		failure := fmt.Errorf("%w: %w", ErrTranscriptionFailure, err)
		for _, i := range half {
			results[i] = turnText{failed: true, err: failure}
		}
	}
	return true, nil
}

// attempt recognizes the given turns as one buffer and stores their text in results
func (e *Engine) attempt(ctx context.Context, asset *audio.Asset, turns []diarization.Turn, idxs []int, results []turnText) error {
	b := buildBatch(asset, turns, idxs, e.config.SliceGapSeconds)
	res, err := e.recognize(ctx, b.pcm, asset.SampleRate)
	if err != nil {
		return err
	}

	if !res.Timed() {
		text := strings.TrimSpace(res.Text)
		switch {
		case text == "":
			for _, s := range b.slots {
				results[s.turn] = turnText{}
			}
			return nil
		case len(b.slots) == 1:
			s := b.slots[0]
			results[s.turn] = turnText{parts: []string{text}}
			return nil
		}
		// untimed text cannot be attributed across slices
		for _, s := range b.slots {
			if err := e.attempt(ctx, asset, turns, []int{s.turn}, results); err != nil {
				return err
			}
		}
		return nil
	}

	local := make(map[int]*turnText, len(b.slots))
	for _, s := range b.slots {
		local[s.turn] = &turnText{}
	}
	for _, seg := range res.Segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		s := b.slots[b.locate(seg.Start, seg.End)]
		r := local[s.turn]
		r.parts = append(r.parts, text)
		w := seg.End - seg.Start
		if w <= 0 {
			w = 1e-3
		}
		r.confidence += seg.Confidence * w
		r.weight += w
	}
	for turn, r := range local {
		results[turn] = *r
	}
	return nil
}

func (e *Engine) recognize(ctx context.Context, pcm []float32, sampleRate int) (*stt.Result, error) {
	bctx, cancel := context.WithTimeout(ctx, e.config.BatchTimeout)
	defer cancel()

	start := time.Now()
	res, err := e.recognizer.Recognize(bctx, stt.Request{
		PCM:        pcm,
		SampleRate: sampleRate,
		Model:      e.config.Model,
		Language:   e.config.Language,
	})
	if err != nil {
		if errors.Is(bctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("batch timed out after %s: %w", e.config.BatchTimeout, err)
		}
		return nil, err
	}
	if res == nil {
		res = &stt.Result{}
	}
	e.logger.Debug("Batch recognized",
		logger.Float64("audio_seconds", float64(len(pcm))/float64(sampleRate)),
		logger.Int("segments", len(res.Segments)),
		logger.Duration("elapsed", time.Since(start)))
	return res, nil
}

// validTurns drops empty turns and orders the rest by start time
func validTurns(turns []diarization.Turn) []diarization.Turn {
	out := make([]diarization.Turn, 0, len(turns))
	for _, t := range turns {
		if t.End > t.Start {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Start < out[j].Start
	})
	return out
}
