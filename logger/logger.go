package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// DefaultFilePrefix names the daily log files written by file-backed loggers.
const DefaultFilePrefix = "data_sync"

// Fields type alias for logrus.Fields to maintain compatibility
type Fields map[string]interface{}

// Log wraps logrus.Logger with additional functionality
type Log struct {
	*logrus.Logger
	closers []io.Closer
}

// Entry wraps logrus.Entry with additional functionality
type Entry struct {
	*logrus.Entry
}

// Options controls how Configure sets up a logger.
type Options struct {
	Level  string
	Format string
	// Directory enables a daily log file in addition to stdout. Empty means
	// stdout only.
	Directory string
	// FilePrefix defaults to DefaultFilePrefix.
	FilePrefix string
	// MaxSizeMB caps a single file before lumberjack rotates it.
	MaxSizeMB int
	// MaxAgeDays lets lumberjack drop its own rotated backups.
	MaxAgeDays int
	// Now picks the date embedded in the file name.
	Now func() time.Time
	// Output replaces stdout as the console sink.
	Output io.Writer
}

// Logger returns a JSON logger writing to stdout at the level named by
// LOG_LEVEL (info when unset or invalid).
func Logger() *Log {
	logger := logrus.New()
	logger.SetReportCaller(true)
	logger.SetOutput(os.Stdout)

	level := logrus.InfoLevel
	if lvl, err := logrus.ParseLevel(strings.ToLower(os.Getenv("LOG_LEVEL"))); err == nil {
		level = lvl
	}
	logger.SetLevel(level)
	logger.SetFormatter(jsonFormatter())
	logger.AddHook(&callerHook{})
	return &Log{Logger: logger}
}

// New builds a logger and applies opts to it.
func New(opts Options) (*Log, error) {
	l := Logger()
	if err := l.Configure(opts); err != nil {
		return nil, err
	}
	return l, nil
}

// Discard returns a logger that drops everything. Used by tests and by
// callers that pass a nil logger.
func Discard() *Log {
	l := Logger()
	l.Logger.SetOutput(io.Discard)
	return l
}

func callerPrettyfier(f *runtime.Frame) (string, string) {
	return "", fmt.Sprintf("%s:%d", filepath.Base(f.File), f.Line)
}

func jsonFormatter() logrus.Formatter {
	return &logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
		CallerPrettyfier: callerPrettyfier,
	}
}

// Configure sets up the logger with the provided options.
func (l *Log) Configure(opts Options) error {
	level := opts.Level
	if env := os.Getenv("LOG_LEVEL"); env != "" {
		level = env
	}
	if level == "" {
		level = "info"
	}

	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("invalid log level '%s'", level)
	}
	l.SetLevel(lvl)

	switch opts.Format {
	case "json", "":
		l.SetFormatter(jsonFormatter())
	case "text":
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:    true,
			TimestampFormat:  time.RFC3339,
			CallerPrettyfier: callerPrettyfier,
		})
	default:
		return fmt.Errorf("invalid log format '%s'", opts.Format)
	}

	console := opts.Output
	if console == nil {
		console = os.Stdout
	}

	if opts.Directory == "" {
		l.SetOutput(console)
		return nil
	}

	if err := os.MkdirAll(opts.Directory, 0o755); err != nil {
		return fmt.Errorf("failed to create log directory '%s': %w", opts.Directory, err)
	}

	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	maxSize := opts.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 100
	}

	file := &lumberjack.Logger{
		Filename: filepath.Join(opts.Directory, FileName(opts.FilePrefix, now())),
		MaxSize:  maxSize,
		MaxAge:   opts.MaxAgeDays,
	}
	l.closers = append(l.closers, file)
	l.SetOutput(io.MultiWriter(console, file))
	return nil
}

// FileName returns the daily log file name for prefix on day t.
func FileName(prefix string, t time.Time) string {
	if prefix == "" {
		prefix = DefaultFilePrefix
	}
	return fmt.Sprintf("%s_%s.log", prefix, t.Format("20060102"))
}

// Close releases any log files opened by Configure.
func (l *Log) Close() error {
	var firstErr error
	for _, c := range l.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	l.closers = nil
	return firstErr
}

func (l *Log) WithComponent(component string) *Entry {
	return &Entry{Entry: l.Logger.WithField("component", component)}
}

func (l *Log) WithFields(fields Fields) *Entry {
	return &Entry{Entry: l.Logger.WithFields(logrus.Fields(fields))}
}

func (l *Log) WithError(err error) *Entry {
	return &Entry{Entry: l.Logger.WithError(err)}
}

func (e *Entry) WithComponent(component string) *Entry {
	return &Entry{Entry: e.Entry.WithField("component", component)}
}

func (e *Entry) WithFields(fields Fields) *Entry {
	return &Entry{Entry: e.Entry.WithFields(logrus.Fields(fields))}
}

func (e *Entry) WithField(key string, value interface{}) *Entry {
	return &Entry{Entry: e.Entry.WithField(key, value)}
}

func (e *Entry) WithError(err error) *Entry {
	return &Entry{Entry: e.Entry.WithError(err)}
}

// Data flow logging helper
func LogDataFlowEntry(entry *Entry, source string, destination string, recordCount int, dataType string) {
	entry.WithFields(Fields{
		"source":       source,
		"destination":  destination,
		"record_count": recordCount,
		"data_type":    dataType,
		"flow_type":    "data_flow",
	}).Info("data flow metric")
}

// Set output for logger
func (l *Log) SetOutput(output io.Writer) {
	l.Logger.SetOutput(output)
}

// Set level for logger
func (l *Log) SetLevel(level logrus.Level) {
	l.Logger.SetLevel(level)
}

// Set formatter for logger
func (l *Log) SetFormatter(formatter logrus.Formatter) {
	l.Logger.SetFormatter(formatter)
}
