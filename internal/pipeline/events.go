package pipeline

import (
	"github.com/yegors/diarscribe/internal/websocket"
	"github.com/yegors/diarscribe/pkg/logger"
)

// LogSink writes events to a logger
type LogSink struct {
	logger *logger.Logger
}

// NewLogSink creates a new logging sink
func NewLogSink(log *logger.Logger) *LogSink {
	return &LogSink{logger: log.Named("events")}
}

// Emit logs the event
func (s *LogSink) Emit(e Event) {
	fields := []logger.Field{
		logger.String("session_id", e.SessionID),
		logger.String("stage", e.Stage),
	}
	if len(e.Data) > 0 {
		fields = append(fields, logger.Any("data", e.Data))
	}
	if e.Stage == StageFailed {
		s.logger.Warn(e.Message, fields...)
		return
	}
	s.logger.Debug(e.Message, fields...)
}

// WebsocketSink broadcasts events to websocket clients
type WebsocketSink struct {
	server *websocket.Server
}

// NewWebsocketSink creates a sink that broadcasts on server
func NewWebsocketSink(server *websocket.Server) *WebsocketSink {
	return &WebsocketSink{server: server}
}

// Emit broadcasts the event as a pipeline_event message
func (s *WebsocketSink) Emit(e Event) {
	s.server.Broadcast(&websocket.Message{
		Type: "pipeline_event",
		Data: e,
	})
}
