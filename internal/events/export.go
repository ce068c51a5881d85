package events

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"sync"
)

// ExportLog writes collected events to a JSON file.
func ExportLog(events []*Event, path string) error {
	data, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0644)
}

// WriterEmitter writes each event as one JSON line.
type WriterEmitter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterEmitter returns an emitter writing JSON lines to w.
func NewWriterEmitter(w io.Writer) *WriterEmitter {
	return &WriterEmitter{w: w}
}

// Emit implements Emitter. Encoding failures are dropped.
func (e *WriterEmitter) Emit(event *Event) {
	data, err := event.JSON()
	if err != nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	_, _ = e.w.Write(append(data, '\n'))
}

// LogEmitter forwards events to a structured logger at debug level.
type LogEmitter struct {
	Logger *slog.Logger
}

// Emit implements Emitter.
func (e LogEmitter) Emit(event *Event) {
	if e.Logger == nil {
		return
	}
	attrs := []any{
		slog.String("event", string(event.Type)),
		slog.String("correlation_id", event.CorrelationID),
	}
	if event.GuildID != "" {
		attrs = append(attrs, slog.String("guild_id", event.GuildID))
	}
	for k, v := range event.Data {
		attrs = append(attrs, slog.Any(k, v))
	}
	e.Logger.Debug("event", attrs...)
}
