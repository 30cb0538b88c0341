package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/yegors/diarscribe/internal/audio"
	"github.com/yegors/diarscribe/internal/config"
	"github.com/yegors/diarscribe/internal/diarization"
	"github.com/yegors/diarscribe/internal/models"
	"github.com/yegors/diarscribe/internal/pipeline"
	"github.com/yegors/diarscribe/internal/storage/sqlite"
	"github.com/yegors/diarscribe/internal/stt"
	"github.com/yegors/diarscribe/internal/transcription"
	"github.com/yegors/diarscribe/internal/websocket"
	"github.com/yegors/diarscribe/pkg/logger"
)

type fakeModel struct{}

func (fakeModel) Diarize(_ context.Context, pcm []float32, rate int) ([]diarization.RawTurn, error) {
	half := float64(len(pcm)) / float64(rate) / 2
	return []diarization.RawTurn{
		{Start: 0, End: half, Speaker: "A"},
		{Start: half, End: 2 * half, Speaker: "B"},
	}, nil
}

type fakeRecognizer struct{}

func (fakeRecognizer) Recognize(context.Context, stt.Request) (*stt.Result, error) {
	return &stt.Result{Text: "testing one two"}, nil
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	log := logger.NewNop()

	cfg := config.Default()
	cfg.Audio.WorkDir = t.TempDir()
	cfg.Server.MaxUploadMB = 8

	db, err := sqlite.Open(sqlite.MemoryPath, log)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	transcripts, err := sqlite.NewTranscriptStorage(db, log)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wsServer := websocket.NewServer(nil, log)
	t.Cleanup(wsServer.Close)

	p := pipeline.New(pipeline.Dependencies{
		Store: audio.NewStore(audio.StoreConfig{WorkDir: cfg.Audio.WorkDir}, log),
		Diarizer: models.NewShared("diarization", func(context.Context) (diarization.Model, error) {
			return fakeModel{}, nil
		}, nil, log),
		Recognizer: models.NewShared("recognizer", func(context.Context) (stt.Recognizer, error) {
			return fakeRecognizer{}, nil
		}, nil, log),
		Transcripts: transcripts,
		Sinks:       []pipeline.EventSink{pipeline.NewWebsocketSink(wsServer)},
	}, pipeline.Config{SampleRate: 16000, Transcription: transcription.DefaultConfig()}, log)

	ts := httptest.NewServer(NewRouter(p, transcripts, wsServer, cfg, log).Routes())
	t.Cleanup(ts.Close)
	return ts
}

func wavBytes(t *testing.T, seconds float64) []byte {
	t.Helper()
	samples := make([]float32, int(seconds*16000))
	for i := range samples {
		samples[i] = float32(0.3 * math.Sin(2*math.Pi*220*float64(i)/16000))
	}
	var buf bytes.Buffer
	if err := audio.EncodeWAV(&buf, samples, 16000, 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return buf.Bytes()
}

func upload(t *testing.T, ts *httptest.Server, field, filename string, data []byte) *http.Response {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fw.Write(data)
	mw.Close()

	resp, err := http.Post(ts.URL+"/api/v1/transcriptions", mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return string(data)
}

func TestUploadRenameAndFetchText(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)

	resp := upload(t, ts, "file", "standup.wav", wavBytes(t, 2))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("unexpected status %d: %s", resp.StatusCode, readBody(t, resp))
	}
	var created struct {
		ID     string `json:"id"`
		Source string `json:"source"`
		Text   string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	want := "[00:00:00.000–00:00:01.000] Speaker 1: testing one two\n" +
		"[00:00:01.000–00:00:02.000] Speaker 2: testing one two\n"
	if created.Text != want || created.Source != "standup.wav" {
		t.Fatalf("unexpected response: %+v", created)
	}

	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/api/v1/transcriptions/"+created.ID+"/speakers/2",
		strings.NewReader(`{"name":"Grace"}`))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", resp.StatusCode, readBody(t, resp))
	}
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/api/v1/transcriptions/" + created.ID + "/text")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	text := readBody(t, resp)
	if !strings.Contains(text, "] Grace: testing one two") || !strings.Contains(text, "] Speaker 1: ") {
		t.Fatalf("unexpected text:\n%s", text)
	}

	resp, err = http.Get(ts.URL + "/api/v1/transcriptions")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var records []sqlite.TranscriptRecord
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()
	if len(records) != 1 || records[0].ID != created.ID || records[0].SpeakerCount != 2 {
		t.Fatalf("unexpected records: %+v", records)
	}
}

func TestErrorStatuses(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)

	resp := upload(t, ts, "file", "notes.txt", []byte("not audio"))
	if resp.StatusCode != http.StatusUnsupportedMediaType {
		t.Fatalf("unexpected status for text upload: %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = upload(t, ts, "attachment", "standup.wav", wavBytes(t, 0.5))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unexpected status for missing file field: %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp, err := http.Get(ts.URL + "/api/v1/transcriptions/missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unexpected status for missing transcript: %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = rename(t, ts, "missing", "1", `{"name":"Ann"}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unexpected status for rename of missing transcript: %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func rename(t *testing.T, ts *httptest.Server, id, ordinal, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPut, ts.URL+"/api/v1/transcriptions/"+id+"/speakers/"+ordinal,
		strings.NewReader(body))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return resp
}

func TestRenameRejectsAmbiguousNames(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)

	resp := upload(t, ts, "file", "standup.wav", wavBytes(t, 2))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("unexpected status %d: %s", resp.StatusCode, readBody(t, resp))
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	cases := []struct {
		ordinal string
		body    string
		status  int
	}{
		{"1", `{"name":"a: b"}`, http.StatusBadRequest},
		{"1", `{"name":"Speaker 2"}`, http.StatusBadRequest},
		{"9", `{"name":"Ann"}`, http.StatusNotFound},
		{"1", `{"name":"Ann"}`, http.StatusOK},
		{"2", `{"name":"ann"}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		resp := rename(t, ts, created.ID, tc.ordinal, tc.body)
		if resp.StatusCode != tc.status {
			t.Fatalf("rename %s to %s: got %d want %d: %s", tc.ordinal, tc.body, resp.StatusCode, tc.status, readBody(t, resp))
		}
		resp.Body.Close()
	}

	resp, err := http.Get(ts.URL + "/api/v1/transcriptions/" + created.ID + "/text")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "[00:00:00.000–00:00:01.000] Ann: testing one two\n" +
		"[00:00:01.000–00:00:02.000] Speaker 2: testing one two\n"
	if text := readBody(t, resp); text != want {
		t.Fatalf("unexpected text:\n%s", text)
	}
}

func TestHealthAndPreflight(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/v1/health")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body := readBody(t, resp); resp.StatusCode != http.StatusOK || !strings.Contains(body, `"status":"ok"`) {
		t.Fatalf("unexpected health response %d: %s", resp.StatusCode, body)
	}

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/api/v1/transcriptions", nil)
	req.Header.Set("Origin", "https://app.example")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent || resp.Header.Get("Access-Control-Allow-Origin") != "https://app.example" {
		t.Fatalf("unexpected preflight response: %d %v", resp.StatusCode, resp.Header)
	}
}

func TestServerServeAndShutdown(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := NewServer(config.ServerConfig{MaxConnections: 1}, handler, logger.NewNop())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("unexpected shutdown error: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("unexpected serve error: %v", err)
	}
}
