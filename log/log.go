package log

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path"
	"runtime/debug"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

var (
	log      zerolog.Logger
	logLevel = LogLevelError

	// panicOnInvalidChars makes the logger panic when a log line contains
	// invalid UTF-8, which helps catching raw bytes formatted with %s.
	panicOnInvalidChars = os.Getenv("LOG_PANIC_ON_INVALIDCHARS") == "true"

	// logTestWriter is used as output when Init is called with logTestWriterName.
	logTestWriter     io.Writer = &syncBuffer{}
	logTestWriterName           = "log_test_writer"
)

func init() {
	Init(LogLevelError, "stderr", nil)
}

// syncBuffer is a concurrency safe bytes.Buffer.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// invalidCharChecker wraps a writer and checks every log line for invalid
// UTF-8 sequences, panicking if any is found.
type invalidCharChecker struct {
	out io.Writer
}

func (w *invalidCharChecker) Write(p []byte) (int, error) {
	if !utf8.Valid(p) || bytes.ContainsRune(p, utf8.RuneError) {
		panic(fmt.Sprintf("log line with invalid chars: %q", p))
	}
	return w.out.Write(p)
}

// errorLevelWriter only forwards error and fatal levels to the wrapped writer.
type errorLevelWriter struct {
	io.Writer
}

func (w *errorLevelWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level < zerolog.ErrorLevel {
		return len(p), nil
	}
	return w.Writer.Write(p)
}

// Init initializes the logger. Output can be stdout, stderr or a file path.
// If errorOutput is set, error logs are also written there.
func Init(level, output string, errorOutput io.Writer) {
	var out io.Writer
	switch output {
	case "stdout":
		out = os.Stdout
	case "stderr":
		out = os.Stderr
	case logTestWriterName:
		out = logTestWriter
	default:
		f, err := os.OpenFile(output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			panic(fmt.Sprintf("cannot create log output: %v", err))
		}
		out = f
	}
	out = zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339Nano,
		NoColor:    output != "stdout" && output != "stderr",
		FormatCaller: func(i any) string {
			s, _ := i.(string)
			return path.Base(s)
		},
	}
	if panicOnInvalidChars {
		out = &invalidCharChecker{out: out}
	}
	if errorOutput != nil {
		out = zerolog.MultiLevelWriter(out, &errorLevelWriter{errorOutput})
	}

	// Skip the frame of the wrapper functions of this package.
	log = zerolog.New(out).With().Timestamp().CallerWithSkipFrameCount(3).Logger()

	switch level {
	case LogLevelDebug:
		log = log.Level(zerolog.DebugLevel)
	case LogLevelInfo:
		log = log.Level(zerolog.InfoLevel)
	case LogLevelWarn:
		log = log.Level(zerolog.WarnLevel)
	case LogLevelError:
		log = log.Level(zerolog.ErrorLevel)
	default:
		panic(fmt.Sprintf("invalid log level: %q", level))
	}
	logLevel = level
	log.Debug().Msgf("logger construction succeeded at level %s with output %s", level, output)
}

// Level returns the current log level.
func Level() string {
	return logLevel
}

// Logger returns the underlying zerolog logger.
func Logger() *zerolog.Logger {
	return &log
}

// SetFileErrorLog sets a file where error logs are also written.
func SetFileErrorLog(filePath string) error {
	f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("cannot create error log output: %w", err)
	}
	log = log.Output(zerolog.MultiLevelWriter(log, &errorLevelWriter{f}))
	return nil
}

// Debug sends a debug level log message
func Debug(args ...any) {
	if log.GetLevel() > zerolog.DebugLevel {
		return
	}
	log.Debug().Msg(fmt.Sprint(args...))
}

// Info sends an info level log message
func Info(args ...any) {
	log.Info().Msg(fmt.Sprint(args...))
}

// Warn sends a warn level log message
func Warn(args ...any) {
	log.Warn().Msg(fmt.Sprint(args...))
}

// Error sends an error level log message
func Error(args ...any) {
	log.Error().Msg(fmt.Sprint(args...))
}

// Fatal sends a fatal level log message and exits with status 1.
func Fatal(args ...any) {
	log.Fatal().Msg(fmt.Sprint(args...) + "\n" + string(debug.Stack()))
}

// Debugf sends a formatted debug level log message
func Debugf(template string, args ...any) {
	log.Debug().Msgf(template, args...)
}

// Infof sends a formatted info level log message
func Infof(template string, args ...any) {
	log.Info().Msgf(template, args...)
}

// Warnf sends a formatted warn level log message
func Warnf(template string, args ...any) {
	log.Warn().Msgf(template, args...)
}

// Errorf sends a formatted error level log message
func Errorf(template string, args ...any) {
	log.Error().Msgf(template, args...)
}

// Fatalf sends a formatted fatal level log message
func Fatalf(template string, args ...any) {
	Fatal(fmt.Sprintf(template, args...))
}

// Debugw sends a debug level log message with key-value pairs.
func Debugw(msg string, keyvalues ...any) {
	log.Debug().Fields(keyvalues).Msg(msg)
}

// Infow sends an info level log message with key-value pairs.
func Infow(msg string, keyvalues ...any) {
	log.Info().Fields(keyvalues).Msg(msg)
}

// Warnw sends a warning level log message with key-value pairs.
func Warnw(msg string, keyvalues ...any) {
	log.Warn().Fields(keyvalues).Msg(msg)
}

// Errorw sends an error level log message with a special format for errors.
func Errorw(err error, msg string) {
	log.Error().Err(err).Msg(msg)
}
