// Package log is the host's leveled logger. Every component logs through
// a prefixed Logger so one run trace interleaves driver, allocation and
// orchestration lines; the entrypoint configures the default logger once
// and packages snapshot it at construction via GetLogger.
package log

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
)

// LogLevel orders message severities.
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR"}

func (l LogLevel) String() string {
	if l < DEBUG || l > ERROR {
		return "UNKNOWN"
	}
	return levelNames[l]
}

// ParseLevel reads a level name, case-insensitive. Unknown names fall
// back to INFO so a typo in the environment never silences the log.
func ParseLevel(s string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return DEBUG
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// OutputFormat selects the line encoding.
type OutputFormat int

const (
	// FormatText is the human-readable console format.
	FormatText OutputFormat = iota
	// FormatJSON emits one JSON object per line.
	FormatJSON
)

// Fields carries structured key-value context on a log entry.
type Fields map[string]any

// Logger writes leveled, prefixed log lines to a single writer.
type Logger struct {
	mu       sync.Mutex
	prefix   string
	writer   io.Writer
	level    LogLevel
	format   OutputFormat
	colorize bool
	caller   bool
}

const timeLayout = "2006-01-02 15:04:05.000"

var levelColors = [...]string{
	DEBUG: "\x1b[36m",
	INFO:  "\x1b[32m",
	WARN:  "\x1b[33m",
	ERROR: "\x1b[31m",
}

const colorReset = "\x1b[0m"

// New returns an INFO-level text logger on stderr. Colors follow the
// NO_COLOR convention.
func New(prefix string) *Logger {
	return &Logger{
		prefix:   prefix,
		writer:   os.Stderr,
		level:    INFO,
		colorize: os.Getenv("NO_COLOR") == "",
	}
}

// SetLevel sets the minimum severity that is written.
func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	l.level = level
	l.mu.Unlock()
}

// SetWriter redirects output, e.g. to a rotating file writer.
func (l *Logger) SetWriter(w io.Writer) {
	l.mu.Lock()
	l.writer = w
	l.mu.Unlock()
}

// SetFormat switches between text and JSON lines.
func (l *Logger) SetFormat(format OutputFormat) {
	l.mu.Lock()
	l.format = format
	l.mu.Unlock()
}

// SetColorize overrides the NO_COLOR-derived default. File output wants
// this off.
func (l *Logger) SetColorize(enable bool) {
	l.mu.Lock()
	l.colorize = enable
	l.mu.Unlock()
}

// SetCaller toggles file:line reporting on every entry.
func (l *Logger) SetCaller(enable bool) {
	l.mu.Lock()
	l.caller = enable
	l.mu.Unlock()
}

// WithPrefix returns a new logger sharing this logger's settings under
// another component prefix.
func (l *Logger) WithPrefix(prefix string) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	return &Logger{
		prefix:   prefix,
		writer:   l.writer,
		level:    l.level,
		format:   l.format,
		colorize: l.colorize,
		caller:   l.caller,
	}
}

func (l *Logger) Debug(msg string, args ...any) { l.output(DEBUG, 3, msg, args, nil) }
func (l *Logger) Info(msg string, args ...any)  { l.output(INFO, 3, msg, args, nil) }
func (l *Logger) Warn(msg string, args ...any)  { l.output(WARN, 3, msg, args, nil) }
func (l *Logger) Error(msg string, args ...any) { l.output(ERROR, 3, msg, args, nil) }

// WithField starts an entry carrying one structured field.
func (l *Logger) WithField(key string, value any) *Entry {
	return &Entry{logger: l, fields: Fields{key: value}}
}

// WithFields starts an entry carrying the given fields.
func (l *Logger) WithFields(fields Fields) *Entry {
	copied := make(Fields, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	return &Entry{logger: l, fields: copied}
}

// WithError starts an entry with the error under the "error" key.
func (l *Logger) WithError(err error) *Entry {
	return l.WithField("error", err.Error())
}

// Entry is an immutable field set waiting for a message.
type Entry struct {
	logger *Logger
	fields Fields
}

// WithField returns a new entry with one more field.
func (e *Entry) WithField(key string, value any) *Entry {
	fields := make(Fields, len(e.fields)+1)
	for k, v := range e.fields {
		fields[k] = v
	}
	fields[key] = value
	return &Entry{logger: e.logger, fields: fields}
}

// WithError returns a new entry with the error under the "error" key.
func (e *Entry) WithError(err error) *Entry {
	return e.WithField("error", err.Error())
}

func (e *Entry) Debug(msg string, args ...any) { e.logger.output(DEBUG, 3, msg, args, e.fields) }
func (e *Entry) Info(msg string, args ...any)  { e.logger.output(INFO, 3, msg, args, e.fields) }
func (e *Entry) Warn(msg string, args ...any)  { e.logger.output(WARN, 3, msg, args, e.fields) }
func (e *Entry) Error(msg string, args ...any) { e.logger.output(ERROR, 3, msg, args, e.fields) }

// output is the single write path. calldepth counts frames back to the
// caller's line, like the standard library's Logger.Output.
func (l *Logger) output(level LogLevel, calldepth int, msg string, args []any, fields Fields) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if level < l.level {
		return
	}
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	caller := ""
	if l.caller {
		caller = callerLine(calldepth)
	}
	var line string
	if l.format == FormatJSON {
		line = l.jsonLine(level, msg, caller, fields)
	} else {
		line = l.textLine(level, msg, caller, fields)
	}
	io.WriteString(l.writer, line)
}

func callerLine(calldepth int) string {
	_, file, line, ok := runtime.Caller(calldepth)
	if !ok {
		return "unknown:0"
	}
	return fmt.Sprintf("%s:%d", filepath.Base(file), line)
}

func (l *Logger) textLine(level LogLevel, msg, caller string, fields Fields) string {
	var b strings.Builder
	b.WriteString(time.Now().Format(timeLayout))
	fmt.Fprintf(&b, " [%-5s] ", level)
	if l.colorize {
		b.WriteString(levelColors[level])
	}
	b.WriteString(l.prefix)
	if l.colorize {
		b.WriteString(colorReset)
	}
	b.WriteString(": ")
	b.WriteString(msg)
	if caller != "" {
		fmt.Fprintf(&b, " (%s)", caller)
	}
	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" {")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=%v", k, fields[k])
		}
		b.WriteByte('}')
	}
	b.WriteByte('\n')
	return b.String()
}

func (l *Logger) jsonLine(level LogLevel, msg, caller string, fields Fields) string {
	entry := struct {
		Time    string `json:"time"`
		Level   string `json:"level"`
		Logger  string `json:"logger"`
		Message string `json:"message"`
		Caller  string `json:"caller,omitempty"`
		Fields  Fields `json:"fields,omitempty"`
	}{
		Time:    time.Now().Format(time.RFC3339Nano),
		Level:   level.String(),
		Logger:  l.prefix,
		Message: msg,
		Caller:  caller,
		Fields:  fields,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Sprintf(`{"level":"ERROR","message":"marshal log entry: %v"}`+"\n", err)
	}
	return string(data) + "\n"
}

var (
	defaultMu     sync.Mutex
	defaultLogger = New("pipetbot")
)

// SetDefaultLogger replaces the logger GetLogger derives from. Call it
// before constructing packages; they keep the derived logger they got.
func SetDefaultLogger(l *Logger) {
	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()
}

// GetLogger returns a component logger derived from the default logger's
// current settings.
func GetLogger(prefix string) *Logger {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	return defaultLogger.WithPrefix(prefix)
}

// ConfigureFromEnv applies the logging environment variables:
//
//	PIPETBOT_LOG_LEVEL   DEBUG, INFO, WARN, ERROR
//	PIPETBOT_LOG_FORMAT  text, json
//	PIPETBOT_LOG_CALLER  any non-empty value enables file:line
//	NO_COLOR             any non-empty value disables colors
func ConfigureFromEnv(l *Logger) {
	if v := os.Getenv("PIPETBOT_LOG_LEVEL"); v != "" {
		l.SetLevel(ParseLevel(v))
	}
	switch strings.ToLower(os.Getenv("PIPETBOT_LOG_FORMAT")) {
	case "json":
		l.SetFormat(FormatJSON)
	case "text":
		l.SetFormat(FormatText)
	}
	if os.Getenv("PIPETBOT_LOG_CALLER") != "" {
		l.SetCaller(true)
	}
	if os.Getenv("NO_COLOR") != "" {
		l.SetColorize(false)
	}
}
