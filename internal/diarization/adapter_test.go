package diarization

import (
	"context"
	"errors"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/transcribe"
	"github.com/aws/aws-sdk-go-v2/service/transcribe/types"
	"github.com/aws/smithy-go"

	"github.com/yegors/diarscribe/internal/audio"
	"github.com/yegors/diarscribe/pkg/logger"
)

type fakeModel struct {
	turns []RawTurn
	err   error

	gotRate int
	gotLen  int
}

func (f *fakeModel) Diarize(_ context.Context, pcm []float32, sampleRate int) ([]RawTurn, error) {
	f.gotRate = sampleRate
	f.gotLen = len(pcm)
	return f.turns, f.err
}

func sine(seconds float64, rate int) []float32 {
	out := make([]float32, int(seconds*float64(rate)))
	for i := range out {
		out[i] = float32(0.3 * math.Sin(2*math.Pi*220*float64(i)/float64(rate)))
	}
	return out
}

func assertTurns(t *testing.T, got []Turn, want []Turn) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("unexpected turns: got %v want %v", got, want)
	}
	for i := range want {
		if math.Abs(got[i].Start-want[i].Start) > 1e-9 || math.Abs(got[i].End-want[i].End) > 1e-9 || got[i].Speaker != want[i].Speaker {
			t.Fatalf("unexpected turn %d: got %v want %v", i, got[i], want[i])
		}
	}
}

func TestNormalizeMergesSameSpeaker(t *testing.T) {
	t.Parallel()

	raw := []RawTurn{{0, 10, "A"}, {10, 12, "A"}, {12, 20, "B"}}
	assertTurns(t, Normalize(raw, 20, 3), []Turn{{0, 12, "A"}, {12, 20, "B"}})
}

func TestNormalizeResolvesOverlaps(t *testing.T) {
	t.Parallel()

	raw := []RawTurn{{5, 8, "B"}, {0, 10, "A"}}
	assertTurns(t, Normalize(raw, 0, 0), []Turn{{0, 5, "A"}, {5, 8, "B"}, {8, 10, "A"}})
}

func TestNormalizeDropsAndClamps(t *testing.T) {
	t.Parallel()

	raw := []RawTurn{
		{-1, 2, "A"},
		{3, 3, "B"},
		{math.NaN(), 4, "C"},
		{6, 5, "D"},
		{4, 20, "B"},
		{15, 18, "C"},
	}
	assertTurns(t, Normalize(raw, 10, 0), []Turn{{0, 2, "A"}, {4, 10, "B"}})

	if got := Normalize(nil, 10, 0.5); len(got) != 0 {
		t.Fatalf("expected no turns, got %v", got)
	}
}

func TestNormalizeOrderedWithoutOverlap(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(42))
	speakers := []string{"A", "B", "C"}
	for round := 0; round < 200; round++ {
		raw := make([]RawTurn, rng.Intn(12))
		for i := range raw {
			start := rng.Float64()*60 - 5
			raw[i] = RawTurn{
				Start:   start,
				End:     start + rng.Float64()*10 - 1,
				Speaker: speakers[rng.Intn(len(speakers))],
			}
		}
		turns := Normalize(raw, 50, 0.5)
		for i, tr := range turns {
			if tr.Start < 0 || tr.End > 50 || tr.End <= tr.Start {
				t.Fatalf("round %d: invalid turn %v", round, tr)
			}
			if i > 0 {
				prev := turns[i-1]
				if tr.Start < prev.End {
					t.Fatalf("round %d: overlapping turns %v %v", round, prev, tr)
				}
				if prev.Speaker == tr.Speaker && tr.Start-prev.End < 0.5 {
					t.Fatalf("round %d: unmerged turns %v %v", round, prev, tr)
				}
			}
		}
	}
}

func TestAdapterConvertsToCanonical(t *testing.T) {
	t.Parallel()

	store := audio.NewStore(audio.StoreConfig{}, logger.NewNop())
	stereo := make([]float32, 2*44100)
	asset := store.FromPCM("stereo", stereo, 44100, 2)

	model := &fakeModel{turns: []RawTurn{{0.5, 0.9, "SPEAKER_00"}, {0, 0.4, "SPEAKER_01"}}}
	adapter := NewAdapter(model, store, Config{SampleRate: 16000, MergeGapSeconds: 0.5}, logger.NewNop())

	turns, err := adapter.Diarize(context.Background(), asset)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if model.gotRate != 16000 || model.gotLen != 16000 {
		t.Fatalf("unexpected audio passed to model: rate=%d len=%d", model.gotRate, model.gotLen)
	}
	assertTurns(t, turns, []Turn{{0, 0.4, "SPEAKER_01"}, {0.5, 0.9, "SPEAKER_00"}})
}

func TestAdapterPassesUnavailableThrough(t *testing.T) {
	t.Parallel()

	store := audio.NewStore(audio.StoreConfig{}, logger.NewNop())
	asset := store.FromPCM("clip", sine(0.5, 16000), 16000, 1)
	adapter := NewAdapter(&fakeModel{err: ErrDiarizationUnavailable}, store, Config{}, logger.NewNop())

	if _, err := adapter.Diarize(context.Background(), asset); !errors.Is(err, ErrDiarizationUnavailable) {
		t.Fatalf("expected ErrDiarizationUnavailable, got %v", err)
	}
}

func TestPyannoteRequiresToken(t *testing.T) {
	t.Parallel()

	_, err := NewPyannoteClient(PyannoteConfig{URL: "http://127.0.0.1:1/diarize"}, logger.NewNop())
	if !errors.Is(err, ErrDiarizationUnavailable) {
		t.Fatalf("expected ErrDiarizationUnavailable, got %v", err)
	}
}

func TestPyannoteRejectedCredentialsNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad token", http.StatusUnauthorized)
	}))
	defer server.Close()

	client, err := NewPyannoteClient(PyannoteConfig{URL: server.URL, Token: "hf_bad"}, logger.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	client.retryDelay = time.Millisecond

	if _, err := client.Diarize(context.Background(), sine(0.2, 16000), 16000); !errors.Is(err, ErrDiarizationUnavailable) {
		t.Fatalf("expected ErrDiarizationUnavailable, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single attempt, got %d", calls.Load())
	}
}

func TestPyannoteRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	auth := make(chan string, 3)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth <- r.Header.Get("Authorization")
		if calls.Add(1) == 1 {
			http.Error(w, "warming up", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"turns":[{"start":0.0,"end":1.5,"speaker":"SPEAKER_00"},{"start":1.5,"end":2.0,"speaker":"SPEAKER_01"}]}`)
	}))
	defer server.Close()

	client, err := NewPyannoteClient(PyannoteConfig{URL: server.URL, Token: "hf_good"}, logger.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	client.retryDelay = time.Millisecond

	turns, err := client.Diarize(context.Background(), sine(0.2, 16000), 16000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(turns) != 2 || turns[1].Speaker != "SPEAKER_01" {
		t.Fatalf("unexpected turns: %+v", turns)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls.Load())
	}
	if got := <-auth; got != "Bearer hf_good" {
		t.Fatalf("unexpected authorization header: %q", got)
	}
}

func TestPyannoteUnreachable(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	client, err := NewPyannoteClient(PyannoteConfig{URL: url, Token: "hf_x"}, logger.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := client.Diarize(context.Background(), sine(0.1, 16000), 16000); !errors.Is(err, ErrDiarizationUnavailable) {
		t.Fatalf("expected ErrDiarizationUnavailable, got %v", err)
	}
}

type fakeS3 struct {
	objects map[string][]byte
	result  string
	denied  bool
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if f.denied {
		return nil, &smithy.GenericAPIError{Code: "AccessDenied", Message: "denied"}
	}
	if _, ok := f.objects[aws.ToString(in.Key)]; !ok {
		return nil, &smithy.GenericAPIError{Code: "NotFound", Message: "not found"}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if !strings.HasSuffix(aws.ToString(in.Key), ".json") {
		return nil, &smithy.GenericAPIError{Code: "NoSuchKey", Message: "no such key"}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(f.result))}, nil
}

type fakeJobs struct {
	started *transcribe.StartTranscriptionJobInput
	polls   int
}

func (f *fakeJobs) StartTranscriptionJob(_ context.Context, in *transcribe.StartTranscriptionJobInput, _ ...func(*transcribe.Options)) (*transcribe.StartTranscriptionJobOutput, error) {
	f.started = in
	return &transcribe.StartTranscriptionJobOutput{}, nil
}

func (f *fakeJobs) GetTranscriptionJob(_ context.Context, in *transcribe.GetTranscriptionJobInput, _ ...func(*transcribe.Options)) (*transcribe.GetTranscriptionJobOutput, error) {
	if f.started == nil {
		return nil, &smithy.GenericAPIError{Code: "BadRequestException", Message: "The requested job couldn't be found. Check the job name and try again."}
	}
	f.polls++
	status := types.TranscriptionJobStatusInProgress
	if f.polls > 1 {
		status = types.TranscriptionJobStatusCompleted
	}
	return &transcribe.GetTranscriptionJobOutput{
		TranscriptionJob: &types.TranscriptionJob{
			TranscriptionJobName:   in.TranscriptionJobName,
			TranscriptionJobStatus: status,
		},
	}, nil
}

func TestTranscribeDiarizerRunsJob(t *testing.T) {
	t.Parallel()

	store := &fakeS3{
		objects: map[string][]byte{},
		result: `{"results":{"speaker_labels":{"speakers":2,"segments":[
			{"start_time":"0.12","end_time":"2.5","speaker_label":"spk_0"},
			{"start_time":"2.75","end_time":"4.0","speaker_label":"spk_1"}]}}}`,
	}
	jobs := &fakeJobs{}
	d := newTranscribeDiarizer(store, jobs, TranscribeConfig{Bucket: "meetings", MaxSpeakers: 4}, logger.NewNop())
	d.poll = time.Millisecond

	turns, err := d.Diarize(context.Background(), sine(0.5, 16000), 16000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(turns) != 2 || turns[0].Start != 0.12 || turns[1].Speaker != "spk_1" {
		t.Fatalf("unexpected turns: %+v", turns)
	}
	if len(store.objects) != 1 {
		t.Fatalf("expected one uploaded object, got %d", len(store.objects))
	}
	if jobs.started == nil || aws.ToInt32(jobs.started.Settings.MaxSpeakerLabels) != 4 || !aws.ToBool(jobs.started.Settings.ShowSpeakerLabels) {
		t.Fatalf("unexpected job input: %+v", jobs.started)
	}
	if !strings.HasPrefix(aws.ToString(jobs.started.Media.MediaFileUri), "s3://meetings/diarscribe/media/") {
		t.Fatalf("unexpected media uri: %s", aws.ToString(jobs.started.Media.MediaFileUri))
	}
}

func TestTranscribeDiarizerAccessDenied(t *testing.T) {
	t.Parallel()

	store := &fakeS3{objects: map[string][]byte{}, denied: true}
	d := newTranscribeDiarizer(store, &fakeJobs{}, TranscribeConfig{Bucket: "meetings"}, logger.NewNop())

	if _, err := d.Diarize(context.Background(), sine(0.1, 16000), 16000); !errors.Is(err, ErrDiarizationUnavailable) {
		t.Fatalf("expected ErrDiarizationUnavailable, got %v", err)
	}
}

func TestEnergyDiarizerAlternatesOnLongGaps(t *testing.T) {
	t.Parallel()

	const rate = 16000
	var pcm []float32
	pcm = append(pcm, sine(1, rate)...)
	pcm = append(pcm, make([]float32, rate/10)...)
	pcm = append(pcm, sine(0.9, rate)...)
	pcm = append(pcm, make([]float32, 2*rate)...)
	pcm = append(pcm, sine(1, rate)...)

	d := NewEnergyDiarizer(EnergyConfig{}, logger.NewNop())
	raw, err := d.Diarize(context.Background(), pcm, rate)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(raw) != 2 {
		t.Fatalf("expected 2 turns, got %+v", raw)
	}
	if raw[0].Speaker == raw[1].Speaker {
		t.Fatalf("expected a speaker change after the long gap: %+v", raw)
	}
	if math.Abs(raw[0].Start) > 0.05 || math.Abs(raw[0].End-2) > 0.05 || math.Abs(raw[1].Start-4) > 0.05 || math.Abs(raw[1].End-5) > 0.05 {
		t.Fatalf("unexpected turn bounds: %+v", raw)
	}
}
