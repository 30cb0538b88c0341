package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/yegors/diarscribe/internal/config"
	"github.com/yegors/diarscribe/internal/pipeline"
	"github.com/yegors/diarscribe/internal/storage/sqlite"
	"github.com/yegors/diarscribe/internal/websocket"
	"github.com/yegors/diarscribe/pkg/logger"
)

// Router is the API router
type Router struct {
	handler    *Handler
	middleware *Middleware
	config     *config.Config
	logger     *logger.Logger
}

// NewRouter creates a new API router
func NewRouter(p *pipeline.Pipeline, transcripts *sqlite.TranscriptStorage, wsServer *websocket.Server, config *config.Config, logger *logger.Logger) *Router {
	return &Router{
		handler:    NewHandler(p, transcripts, wsServer, config, logger),
		middleware: NewMiddleware(logger),
		config:     config,
		logger:     logger.Named("api-router"),
	}
}

// Routes returns the API routes
func (r *Router) Routes() http.Handler {
	router := chi.NewRouter()

	// Middleware
	router.Use(r.middleware.RequestID)
	router.Use(r.middleware.Logger)
	router.Use(r.middleware.Recoverer)
	router.Use(r.middleware.CORS(r.config.Server.CORSAllowedOrigins))

	// API routes
	router.Route("/api/v1", func(router chi.Router) {
		// Transcription routes
		router.Post("/transcriptions", r.handler.CreateTranscription)
		router.Get("/transcriptions", r.handler.ListTranscriptions)
		router.Get("/transcriptions/{id}", r.handler.GetTranscription)
		router.Get("/transcriptions/{id}/text", r.handler.GetTranscriptionText)
		router.Delete("/transcriptions/{id}", r.handler.DeleteTranscription)
		router.Put("/transcriptions/{id}/speakers/{ordinal}", r.handler.RenameSpeaker)

		// Progress feed
		router.Get("/ws", r.handler.HandleWebSocket)

		// Health check
		router.Get("/health", r.handler.GetHealth)
	})

	return router
}
