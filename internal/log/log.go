package log

import (
	stdlog "log"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	slogmulti "github.com/samber/slog-multi"
	slogsentry "github.com/samber/slog-sentry/v2"
)

type Level string

const sentryFlushTimeout = 2 * time.Second

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Options configures the process-wide logger.
type Options struct {
	Level Level
	// JSON selects the JSON handler (production); otherwise text is used.
	JSON bool
	// SentryDSN, if set, additionally ships ERROR records to Sentry.
	SentryDSN string
}

var (
	mu       sync.RWMutex
	logger   *slog.Logger
	levelVar = new(slog.LevelVar)
	initOnce sync.Once
)

// initDefault installs a text handler on stderr at INFO so that the helpers
// work before Init is called (tests, early startup).
func initDefault() {
	initOnce.Do(func() {
		levelVar.Set(slog.LevelInfo)
		mu.Lock()
		if logger == nil {
			logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar}))
		}
		mu.Unlock()
	})
}

// Init replaces the global logger according to opts. It also becomes the
// slog default so that libraries using slog directly end up in the same sink.
func Init(opts Options) {
	initDefault()
	levelVar.Set(toSlog(opts.Level))

	handlers := []slog.Handler{}
	hopts := &slog.HandlerOptions{Level: levelVar}
	if opts.JSON {
		handlers = append(handlers, slog.NewJSONHandler(os.Stderr, hopts))
	} else {
		handlers = append(handlers, slog.NewTextHandler(os.Stderr, hopts))
	}

	if opts.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              opts.SentryDSN,
			TracesSampleRate: 0,
		})
		if err == nil {
			handlers = append(handlers, slogsentry.Option{Level: slog.LevelError}.NewSentryHandler())
		}
	}

	var h slog.Handler
	if len(handlers) > 1 {
		h = slogmulti.Fanout(handlers...)
	} else {
		h = handlers[0]
	}

	l := slog.New(h)
	mu.Lock()
	logger = l
	mu.Unlock()
	slog.SetDefault(l)
}

func SetLevel(l Level) {
	initDefault()
	levelVar.Set(toSlog(l))
}

// ParseLevel maps a config string onto a Level; unknown values become INFO.
func ParseLevel(s string) Level {
	switch Level(strings.ToUpper(strings.TrimSpace(s))) {
	case LevelDebug:
		return LevelDebug
	case LevelWarn:
		return LevelWarn
	case LevelError:
		return LevelError
	default:
		return LevelInfo
	}
}

func Debug(msg string, kv ...any) {
	current().Debug(msg, kv...)
}

func Info(msg string, kv ...any) {
	current().Info(msg, kv...)
}

func Warn(msg string, kv ...any) {
	current().Warn(msg, kv...)
}

func Error(msg string, err error, kv ...any) {
	// Prepend error into key-value list.
	extended := append([]any{"err", err}, kv...)
	current().Error(msg, extended...)
}

// StdLogger adapts the current logger for libraries that want a *log.Logger
// (gorm, chromedp). Every line is logged at level l.
func StdLogger(l Level) *stdlog.Logger {
	return slog.NewLogLogger(current().Handler(), toSlog(l))
}

// Flush waits for buffered Sentry events, if any.
func Flush() {
	sentry.Flush(sentryFlushTimeout)
}

func current() *slog.Logger {
	initDefault()
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

func toSlog(l Level) slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
