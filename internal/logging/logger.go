// Package logging provides the structured logger and the append-only
// diagnostic recorder consumed by the UI log panel.
package logging

import (
	"log/slog"
	"os"
	"sync"
	"time"
)

// NewLogger creates a structured logger appropriate for the environment.
// Production uses JSON format, development uses human-readable text.
func NewLogger(env string) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}

	if env == "production" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		opts.Level = slog.LevelDebug
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

// maxEntries bounds the recorder ring. Matches the UI panel, which only
// ever renders the last 500 entries.
const maxEntries = 500

// Entry is a single diagnostic record.
type Entry struct {
	Type    string         `json:"type"` // "event" or "error"
	TS      time.Time      `json:"ts"`
	User    string         `json:"user,omitempty"`
	Area    string         `json:"area,omitempty"`
	Action  string         `json:"action"`
	Details map[string]any `json:"details,omitempty"`
}

// Recorder is an append-only diagnostic sink. It keeps a bounded
// in-memory ring of entries stamped with the current user and mirrors
// them to slog. It never blocks and never panics, so callers can log
// from any code path without error handling.
type Recorder struct {
	mu      sync.Mutex
	entries []Entry

	logger *slog.Logger

	// currentUser is consulted at append time so entries written after
	// a login are stamped with the right identity. May be nil.
	currentUser func() string
}

// NewRecorder creates a recorder mirroring to the given logger.
// currentUser may be nil when no session tracking is wanted.
func NewRecorder(logger *slog.Logger, currentUser func() string) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}

	return &Recorder{
		logger:      logger,
		currentUser: currentUser,
	}
}

// Event appends a diagnostic event entry.
func (r *Recorder) Event(area, action string, details map[string]any) {
	r.append(Entry{
		Type:    "event",
		Area:    area,
		Action:  action,
		Details: details,
	})

	r.logger.Debug("event",
		slog.String("area", area),
		slog.String("action", action),
		slog.Any("details", details),
	)
}

// Error appends a diagnostic error entry. A nil err is tolerated.
func (r *Recorder) Error(action string, err error, details map[string]any) {
	if details == nil {
		details = make(map[string]any, 1)
	}

	if err != nil {
		details["message"] = err.Error()
	}

	r.append(Entry{
		Type:    "error",
		Action:  action,
		Details: details,
	})

	r.logger.Error("recorded error",
		slog.String("action", action),
		slog.Any("error", err),
		slog.Any("details", details),
	)
}

// Entries returns a snapshot of the recorded entries, oldest first.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Entry, len(r.entries))
	copy(out, r.entries)

	return out
}

// Clear discards all recorded entries.
func (r *Recorder) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = nil
}

func (r *Recorder) append(e Entry) {
	e.TS = time.Now().UTC()
	if r.currentUser != nil {
		e.User = r.currentUser()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = append(r.entries, e)
	if len(r.entries) > maxEntries {
		r.entries = r.entries[len(r.entries)-maxEntries:]
	}
}
