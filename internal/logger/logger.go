// Package logger implements the driver's structured, leveled logging: one Logger per Client,
// routing ComponentMessages to an os.Stderr/os.Stdout sink or a caller-supplied LogSink,
// filtered per-component by Level.
package logger

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/driftdb/mongo-driver/bson"
)

const jobBufferSize = 100
const maxDocumentLengthEnvVar = "MONGODB_LOG_MAX_DOCUMENT_LENGTH"
const logSinkPathEnvVar = "MONGODB_LOG_PATH"

// DefaultMaxDocumentLength is the default maximum length of a stringified BSON document, in
// bytes, before TruncationSuffix is appended.
const DefaultMaxDocumentLength = 1000

// TruncationSuffix is appended to a truncated document string; it does not count toward the max
// document length.
const TruncationSuffix = "..."

// Component identifies which part of the driver a message originates from, so a caller can
// enable debug logging for, say, command monitoring without also getting topology churn.
type Component string

// Components.
const (
	ComponentCommand         Component = "command"
	ComponentTopology        Component = "topology"
	ComponentServerSelection Component = "serverSelection"
	ComponentConnection      Component = "connection"
)

type componentEnvVar string

const (
	componentEnvVarAll              componentEnvVar = "MONGODB_LOG_ALL"
	mongoDBLogCommandEnvVar         componentEnvVar = "MONGODB_LOG_COMMAND"
	mongoDBLogTopologyEnvVar        componentEnvVar = "MONGODB_LOG_TOPOLOGY"
	mongoDBLogServerSelectionEnvVar componentEnvVar = "MONGODB_LOG_SERVER_SELECTION"
	mongoDBLogConnectionEnvVar      componentEnvVar = "MONGODB_LOG_CONNECTION"
)

var allComponentEnvVars = []componentEnvVar{
	componentEnvVarAll,
	mongoDBLogCommandEnvVar,
	mongoDBLogTopologyEnvVar,
	mongoDBLogServerSelectionEnvVar,
	mongoDBLogConnectionEnvVar,
}

func (e componentEnvVar) component() Component {
	switch e {
	case mongoDBLogCommandEnvVar:
		return ComponentCommand
	case mongoDBLogTopologyEnvVar:
		return ComponentTopology
	case mongoDBLogServerSelectionEnvVar:
		return ComponentServerSelection
	case mongoDBLogConnectionEnvVar:
		return ComponentConnection
	default:
		return ""
	}
}

// ComponentMessage is a loggable event: a component, a short human message, and a set of
// key/value pairs describing it in detail.
type ComponentMessage interface {
	Component() Component
	Message() string
	Serialize() []interface{}
}

// CommandMessageDropped is logged in place of a real message when the logger's job queue is
// full, so a slow sink never blocks the caller that's trying to log.
type CommandMessageDropped struct{}

// Component implements ComponentMessage.
func (CommandMessageDropped) Component() Component { return ComponentCommand }

// Message implements ComponentMessage.
func (CommandMessageDropped) Message() string { return "Command message dropped" }

// Serialize implements ComponentMessage.
func (CommandMessageDropped) Serialize() []interface{} { return nil }

// CommandStartedMessage is logged immediately before a command is sent on the wire.
type CommandStartedMessage struct {
	Name         string
	DatabaseName string
	RequestID    int64
	ConnectionID string
	Command      bson.Raw
}

// Component implements ComponentMessage.
func (m *CommandStartedMessage) Component() Component { return ComponentCommand }

// Message implements ComponentMessage.
func (m *CommandStartedMessage) Message() string { return "Command started" }

// Serialize implements ComponentMessage.
func (m *CommandStartedMessage) Serialize() []interface{} {
	return []interface{}{
		"commandName", m.Name,
		"databaseName", m.DatabaseName,
		"requestId", m.RequestID,
		"driverConnectionId", m.ConnectionID,
		"command", m.Command,
	}
}

// CommandSucceededMessage is logged when a command's reply arrives without a server error.
type CommandSucceededMessage struct {
	Name         string
	RequestID    int64
	ConnectionID string
	DurationMS   int64
	Reply        bson.Raw
}

// Component implements ComponentMessage.
func (m *CommandSucceededMessage) Component() Component { return ComponentCommand }

// Message implements ComponentMessage.
func (m *CommandSucceededMessage) Message() string { return "Command succeeded" }

// Serialize implements ComponentMessage.
func (m *CommandSucceededMessage) Serialize() []interface{} {
	return []interface{}{
		"commandName", m.Name,
		"requestId", m.RequestID,
		"driverConnectionId", m.ConnectionID,
		"durationMS", m.DurationMS,
		"reply", m.Reply,
	}
}

// CommandFailedMessage is logged when a command round-trips but the server (or the transport)
// reports a failure.
type CommandFailedMessage struct {
	Name         string
	RequestID    int64
	ConnectionID string
	DurationMS   int64
	Failure      string
}

// Component implements ComponentMessage.
func (m *CommandFailedMessage) Component() Component { return ComponentCommand }

// Message implements ComponentMessage.
func (m *CommandFailedMessage) Message() string { return "Command failed" }

// Serialize implements ComponentMessage.
func (m *CommandFailedMessage) Serialize() []interface{} {
	return []interface{}{
		"commandName", m.Name,
		"requestId", m.RequestID,
		"driverConnectionId", m.ConnectionID,
		"durationMS", m.DurationMS,
		"failure", m.Failure,
	}
}

// LogSink is a subset of go-logr/logr's LogSink interface: anything able to print a leveled,
// structured message.
type LogSink interface {
	Info(level int, msg string, keysAndValues ...interface{})
}

type osSink struct {
	f *os.File
}

func newOSSink(f *os.File) *osSink { return &osSink{f: f} }

func (s *osSink) Info(level int, msg string, keysAndValues ...interface{}) {
	fmt.Fprintf(s.f, "[%d] %s %v\n", level, msg, keysAndValues)
}

type job struct {
	level Level
	msg   ComponentMessage
}

// Logger dispatches ComponentMessages to a LogSink on a background goroutine, so logging never
// blocks the command path waiting on a slow writer.
type Logger struct {
	ComponentLevels   map[Component]Level
	Sink              LogSink
	MaxDocumentLength uint

	jobs chan job
}

// New constructs a Logger. componentLevels, if non-empty, takes precedence over the
// MONGODB_LOG_* environment variables; maxDocumentLength of 0 selects the environment value or
// DefaultMaxDocumentLength.
func New(sink LogSink, maxDocumentLength uint, componentLevels map[Component]Level) *Logger {
	l := &Logger{
		ComponentLevels:   selectComponentLevels(componentLevels),
		MaxDocumentLength: selectMaxDocumentLength(maxDocumentLength),
		Sink:              selectLogSink(sink),
		jobs:              make(chan job, jobBufferSize),
	}
	go l.run()
	return l
}

// Close stops the logger's dispatch goroutine. It must not be called concurrently with Print.
func (l *Logger) Close() { close(l.jobs) }

// Is reports whether level is enabled for component.
func (l *Logger) Is(level Level, component Component) bool {
	return l.ComponentLevels[component] >= level
}

// Print enqueues msg for dispatch, dropping it (in favor of a CommandMessageDropped marker) if
// the queue is full rather than blocking the caller.
func (l *Logger) Print(level Level, msg ComponentMessage) {
	select {
	case l.jobs <- job{level, msg}:
	default:
		select {
		case l.jobs <- job{level, CommandMessageDropped{}}:
		default:
		}
	}
}

func (l *Logger) run() {
	for j := range l.jobs {
		if l.Sink == nil || !l.Is(j.level, j.msg.Component()) {
			continue
		}
		kvs, err := formatMessage(j.msg.Serialize(), l.MaxDocumentLength)
		if err != nil {
			l.Sink.Info(int(j.level)-DiffToInfo, "error formatting log message", "error", err)
			continue
		}
		l.Sink.Info(int(j.level)-DiffToInfo, j.msg.Message(), kvs...)
	}
}

func truncate(str string, width uint) string {
	if width == 0 || len(str) <= int(width) {
		return str
	}
	cut := str[:width]
	for len(cut) > 0 && !isRuneStart(cut[len(cut)-1]) {
		cut = cut[:len(cut)-1]
	}
	return cut + TruncationSuffix
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

// formatMessage truncates the "command" and "reply" values of a key/value list, which are the
// only ones that can be arbitrarily large (a full command or reply document).
func formatMessage(keysAndValues []interface{}, maxLen uint) ([]interface{}, error) {
	out := make([]interface{}, len(keysAndValues))
	copy(out, keysAndValues)
	for i := 0; i+1 < len(out); i += 2 {
		key, _ := out[i].(string)
		if key != "command" && key != "reply" {
			continue
		}
		raw, ok := out[i+1].(bson.Raw)
		if !ok {
			continue
		}
		out[i+1] = truncate(raw.String(), maxLen)
	}
	return out, nil
}

func selectMaxDocumentLength(arg uint) uint {
	if arg != 0 {
		return arg
	}
	if v := os.Getenv(maxDocumentLengthEnvVar); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			return uint(n)
		}
	}
	return DefaultMaxDocumentLength
}

const (
	logSinkPathStdout = "stdout"
	logSinkPathStderr = "stderr"
)

func selectLogSink(arg LogSink) LogSink {
	if arg != nil {
		return arg
	}
	switch strings.ToLower(os.Getenv(logSinkPathEnvVar)) {
	case logSinkPathStdout:
		return newOSSink(os.Stdout)
	default:
		return newOSSink(os.Stderr)
	}
}

func selectComponentLevels(arg map[Component]Level) map[Component]Level {
	levels := make(map[Component]Level, len(allComponentEnvVars)-1)
	globalLevel := ParseLevel(os.Getenv(string(componentEnvVarAll)))

	for _, envVar := range allComponentEnvVars {
		if envVar == componentEnvVarAll {
			continue
		}
		level := globalLevel
		if globalLevel == LevelOff {
			level = ParseLevel(os.Getenv(string(envVar)))
		}
		levels[envVar.component()] = level
	}
	for component, level := range arg {
		levels[component] = level
	}
	return levels
}
