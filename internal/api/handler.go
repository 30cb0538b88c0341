package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/yegors/diarscribe/internal/audio"
	"github.com/yegors/diarscribe/internal/config"
	"github.com/yegors/diarscribe/internal/diarization"
	"github.com/yegors/diarscribe/internal/enhance"
	"github.com/yegors/diarscribe/internal/pipeline"
	"github.com/yegors/diarscribe/internal/speakers"
	"github.com/yegors/diarscribe/internal/storage/sqlite"
	"github.com/yegors/diarscribe/internal/stt"
	"github.com/yegors/diarscribe/internal/transcript"
	"github.com/yegors/diarscribe/internal/transcription"
	"github.com/yegors/diarscribe/internal/websocket"
	"github.com/yegors/diarscribe/pkg/logger"
)

const defaultListLimit = 50

// Handler serves the transcription API
type Handler struct {
	pipeline    *pipeline.Pipeline
	transcripts *sqlite.TranscriptStorage
	wsServer    *websocket.Server
	config      *config.Config
	logger      *logger.Logger
	startTime   time.Time
}

// NewHandler creates a new API handler
func NewHandler(p *pipeline.Pipeline, transcripts *sqlite.TranscriptStorage, wsServer *websocket.Server, config *config.Config, logger *logger.Logger) *Handler {
	return &Handler{
		pipeline:    p,
		transcripts: transcripts,
		wsServer:    wsServer,
		config:      config,
		logger:      logger.Named("api-handler"),
		startTime:   time.Now(),
	}
}

// TranscriptResponse is a transcript together with its rendered text
type TranscriptResponse struct {
	*transcript.Transcript
	Text string `json:"text"`
}

type renameRequest struct {
	Name string `json:"name"`
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// CreateTranscription transcribes an uploaded recording. Speakers keep their
// placeholder names; they can be renamed afterwards.
func (h *Handler) CreateTranscription(w http.ResponseWriter, r *http.Request) {
	maxBytes := h.config.Server.MaxUploadMB << 20
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer file.Close()

	opts := pipeline.Options{
		SessionID: r.FormValue("session_id"),
		Source:    filepath.Base(header.Filename),
		Enhance:   pipeline.EnhanceMode(r.FormValue("enhance")),
		Store:     true,
	}
	if opts.Enhance == "" && h.config.Enhancement.Enabled {
		opts.Enhance = pipeline.EnhanceFixed
		if h.config.Enhancement.Search {
			opts.Enhance = pipeline.EnhanceSearch
		}
	}
	if opts.Enhance == pipeline.EnhanceFixed {
		opts.EnhanceConfig = enhance.Config{
			NoiseReduction:      h.config.Enhancement.NoiseReduction,
			VoiceClarity:        h.config.Enhancement.VoiceClarity,
			NormalizationTarget: h.config.Enhancement.NormalizationTarget,
		}
	}
	if model := r.FormValue("model"); model != "" {
		size, err := stt.ParseModelSize(model)
		if err != nil {
			h.writeJSONError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		opts.Model = size
	}

	path, err := h.spool(file, header.Filename)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer os.Remove(path)

	result, err := h.pipeline.Run(r.Context(), path, opts)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, TranscriptResponse{
		Transcript: result.Transcript,
		Text:       transcript.Render(result.Transcript),
	})
}

// spool copies an upload into the work directory, keeping its extension so the
// audio store can pick a decoder.
func (h *Handler) spool(src io.Reader, filename string) (string, error) {
	dir := h.config.Audio.WorkDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create work directory: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(filename))
	f, err := os.CreateTemp(dir, "upload-*"+ext)
	if err != nil {
		return "", fmt.Errorf("failed to create upload file: %w", err)
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to close upload file: %w", err)
	}
	return f.Name(), nil
}

// ListTranscriptions returns stored transcript summaries, newest first
func (h *Handler) ListTranscriptions(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.writeJSONError(w, r, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	records, err := h.transcripts.ListTranscripts(r.Context(), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if records == nil {
		records = []*sqlite.TranscriptRecord{}
	}
	h.writeJSON(w, http.StatusOK, records)
}

// GetTranscription returns a stored transcript
func (h *Handler) GetTranscription(w http.ResponseWriter, r *http.Request) {
	t, err := h.transcripts.GetTranscript(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, TranscriptResponse{Transcript: t, Text: transcript.Render(t)})
}

// GetTranscriptionText returns a stored transcript in its plain-text form
func (h *Handler) GetTranscriptionText(w http.ResponseWriter, r *http.Request) {
	t, err := h.transcripts.GetTranscript(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, transcript.Render(t))
}

// DeleteTranscription removes a stored transcript
func (h *Handler) DeleteTranscription(w http.ResponseWriter, r *http.Request) {
	if err := h.transcripts.DeleteTranscript(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RenameSpeaker names the speaker with the given ordinal
func (h *Handler) RenameSpeaker(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ordinal, err := strconv.Atoi(chi.URLParam(r, "ordinal"))
	if err != nil || ordinal <= 0 {
		h.writeJSONError(w, r, http.StatusBadRequest, "ordinal must be a positive integer")
		return
	}

	var req renameRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil {
		h.writeJSONError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	t, err := h.transcripts.GetTranscript(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	name, err := speakers.CheckName(t, ordinal, req.Name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.transcripts.RenameSpeaker(r.Context(), id, ordinal, name); err != nil {
		h.writeError(w, r, err)
		return
	}
	if t, err = h.transcripts.GetTranscript(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, TranscriptResponse{Transcript: t, Text: transcript.Render(t)})
}

// HandleWebSocket upgrades the connection to the progress feed
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	h.wsServer.ServeHTTP(w, r)
}

// GetHealth reports service liveness
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":            "ok",
		"uptime_seconds":    int64(time.Since(h.startTime).Seconds()),
		"websocket_clients": h.wsServer.ClientCount(),
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", logger.Error(err))
	}
}

func (h *Handler) writeJSONError(w http.ResponseWriter, r *http.Request, status int, message string) {
	h.writeJSON(w, status, errorResponse{
		Error:     message,
		RequestID: middleware.GetReqID(r.Context()),
	})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed",
			logger.String("request_id", middleware.GetReqID(r.Context())),
			logger.String("path", r.URL.Path),
			logger.Error(err))
	}
	h.writeJSONError(w, r, status, err.Error())
}

// statusFor maps domain errors to HTTP status codes
func statusFor(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
		return http.StatusBadRequest
	case errors.Is(err, sqlite.ErrNotFound), errors.Is(err, speakers.ErrUnknownSpeaker):
		return http.StatusNotFound
	case errors.Is(err, speakers.ErrInvalidName):
		return http.StatusBadRequest
	case errors.Is(err, audio.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, audio.ErrIOFailure):
		return http.StatusUnprocessableEntity
	case errors.Is(err, diarization.ErrDiarizationUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, transcription.ErrTranscriptionFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
