// Package audit is structured logging of schema mutations: one event
// per create_class/alter_class/drop_class/rename_class commit, with the
// resulting schema version, the principal that drove it, and (for
// alterations) whether a data validation scan ran.
//
// Grounded on niiniyare-ruun's pkg/logger/zerolog.go: a zerolog.Logger
// built once with service-level context fields (here, the component
// name) and an Info/Warn/Error event per call, since the teacher
// itself only ever writes human-facing CLI output through an io.Writer
// and never logs structured events — zerolog is adopted whole from the
// pack rather than grown out of the teacher's own printf helpers.
package audit

import (
	"io"
	"time"

	"github.com/rs/zerolog"

	"flexilite/internal/applier"
	appcontext "flexilite/internal/context"
)

// Logger emits structured audit events for schema mutations.
type Logger struct {
	zl zerolog.Logger
}

// New returns a Logger writing to out in zerolog's console format.
func New(out io.Writer) *Logger {
	cw := zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	zl := zerolog.New(cw).With().Timestamp().Str("component", "flexilite").Logger()
	return &Logger{zl: zl}
}

// Operation names the callable surface operation being audited.
type Operation string

const (
	OpCreateClass Operation = "create_class"
	OpAlterClass  Operation = "alter_class"
	OpDropClass   Operation = "drop_class"
	OpRenameClass Operation = "rename_class"
)

// Commit logs a successful schema mutation.
func (l *Logger) Commit(op Operation, className string, principal appcontext.Principal, res *applier.Result) {
	event := l.zl.Info().
		Str("op", string(op)).
		Str("class", className).
		Str("principal", principal.Name).
		Uint64("schema_version", res.SchemaVersion)

	if res.ValidationRun {
		event = event.Bool("validation_run", true)
		if res.ValidationStats != nil {
			event = event.Int("rows_scanned", res.ValidationStats.ScannedRows).
				Int("rows_invalid", res.ValidationStats.InvalidRows)
		}
	}
	if len(res.IndexDeferred) > 0 {
		event = event.Strs("index_deferred", res.IndexDeferred)
	}
	event.Msg("schema change committed")
}

// Failed logs a schema mutation that did not commit.
func (l *Logger) Failed(op Operation, className string, principal appcontext.Principal, err error) {
	l.zl.Error().
		Str("op", string(op)).
		Str("class", className).
		Str("principal", principal.Name).
		Err(err).
		Msg("schema change failed")
}
