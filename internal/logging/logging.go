// Package logging configures the structured logger shared by the manager,
// supervisor, and every stage worker.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// New returns a zerolog.Logger writing JSON lines to w (or stdout if nil),
// at the level named by levelName ("debug", "info", "warn", "error").
func New(levelName string, w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stdout
	}
	level, err := zerolog.ParseLevel(strings.ToLower(levelName))
	if err != nil {
		level = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// Fields guarantees the four correlation keys every log line carries are
// present, defaulting trace_id to "-" when a job has not yet been claimed.
// The actor id is written as manager_id for the "manager" stage and as
// worker_id for every other stage.
func Fields(e *zerolog.Event, traceID, actorID, stage, event string) *zerolog.Event {
	if traceID == "" {
		traceID = "-"
	}
	idKey := "worker_id"
	if stage == "manager" {
		idKey = "manager_id"
	}
	return e.Str("trace_id", traceID).Str(idKey, actorID).Str("stage", stage).Str("event", event)
}
