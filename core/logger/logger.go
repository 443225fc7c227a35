package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/m3rciful/seerrbot/core/buildinfo"
	coreconfig "github.com/m3rciful/seerrbot/core/config"
)

var (
	initOnce     sync.Once
	shutdownOnce sync.Once
	out          *fanout

	levelVar    slog.LevelVar
	debugSample sampler

	// L is the process wide logger. It stays nil until InitLogger runs.
	L *slog.Logger

	// Component loggers discard output until InitLogger runs, so packages
	// used without a configured logger (tests, the migrate command) never see nil.

	// DB logs connection and query events.
	DB = discard()
	// TG logs Telegram transport events.
	TG = discard()
	// MIG logs schema migrations.
	MIG = discard()
	// TWire logs handler registration.
	TWire = discard()
	// SCHED logs notification scheduler activity.
	SCHED = discard()
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// InitLogger configures the global logger from cfg. Later calls are no-ops.
func InitLogger(cfg *coreconfig.Config) error {
	var err error
	initOnce.Do(func() {
		var lc coreconfig.LoggingConfig
		if cfg != nil {
			lc = cfg.Logging
		}
		profile := profileOf(lc)
		levelVar.Set(levelOf(lc))
		if profile == "debug" {
			debugSample.set(0, 0)
		} else {
			debugSample.set(sampleOf(lc))
		}

		var sinks []sink
		sinks, err = openSinks(lc)
		if err != nil {
			return
		}
		out = newFanout(sinks)
		L = slog.New(newHandler(handlerConfig{
			level:    &levelVar,
			out:      out,
			format:   formatOf(lc, profile),
			keyOrder: keyOrderOf(lc),
		}))
		slog.SetDefault(L)

		DB = L.With("component", "db")
		TG = L.With("component", "tg")
		MIG = L.With("component", "db.migrate")
		TWire = L.With("component", "tg.wire")
		SCHED = L.With("component", "scheduler")

		L.LogAttrs(context.Background(), slog.LevelInfo, "startup",
			slog.String("component", "app"),
			slog.String("event", "startup"),
			slog.String("go_version", runtime.Version()),
			slog.String("build_version", buildinfo.Version),
			slog.String("build_commit", buildinfo.Commit),
			slog.String("build_time", buildinfo.Date),
			slog.String("cfg_profile", profile),
		)
	})
	return err
}

// Shutdown drains buffered lines and closes the log files.
func Shutdown() error {
	var err error
	shutdownOnce.Do(func() {
		if out != nil {
			err = out.close()
		}
	})
	return err
}

func profileOf(lc coreconfig.LoggingConfig) string {
	if p := strings.ToLower(strings.TrimSpace(lc.Profile)); p != "" {
		return p
	}
	return "prod"
}

func levelOf(lc coreconfig.LoggingConfig) slog.Level {
	switch strings.ToLower(strings.TrimSpace(lc.Level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// formatOf honours an explicit format; otherwise dev profiles get key=value.
func formatOf(lc coreconfig.LoggingConfig, profile string) logFormat {
	switch strings.ToLower(strings.TrimSpace(lc.Format)) {
	case "json":
		return formatJSON
	case "kv", "text", "pretty":
		return formatKV
	}
	if profile == "debug" || profile == "dev" {
		return formatKV
	}
	return formatJSON
}

func keyOrderOf(lc coreconfig.LoggingConfig) []string {
	raw := strings.TrimSpace(lc.KeysOrder)
	if raw == "" || raw == "default" {
		return defaultKeyOrder
	}
	var order []string
	for _, k := range strings.Split(raw, ",") {
		if k = strings.TrimSpace(k); k != "" {
			order = append(order, k)
		}
	}
	if len(order) == 0 {
		return defaultKeyOrder
	}
	return order
}

// sampleOf defaults to logging one in fifty high volume debug events.
func sampleOf(lc coreconfig.LoggingConfig) (int, int) {
	if strings.TrimSpace(lc.DebugSample) == "" {
		return 1, 50
	}
	num, den, ok := parseRatio(lc.DebugSample)
	if !ok {
		return 1, 50
	}
	return num, den
}

// openSinks always writes to stdout and adds the configured files under dir.
// The errors file only receives ERROR and above.
func openSinks(lc coreconfig.LoggingConfig) ([]sink, error) {
	sinks := []sink{newSink(os.Stdout, slog.LevelDebug)}
	dir := strings.TrimSpace(lc.Dir)
	if dir == "" {
		return sinks, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("logger: create %s: %w", dir, err)
	}
	files := []struct {
		name  string
		floor slog.Level
	}{
		{strings.TrimSpace(lc.File), slog.LevelDebug},
		{strings.TrimSpace(lc.ErrorsFile), slog.LevelError},
	}
	for _, file := range files {
		if file.name == "" {
			continue
		}
		path := filepath.Join(dir, file.name)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			for _, s := range sinks {
				if s.closer != nil {
					_ = s.closer.Close()
				}
			}
			return nil, fmt.Errorf("logger: open %s: %w", path, err)
		}
		sinks = append(sinks, fileSink(f, file.floor))
	}
	return sinks, nil
}

// LogEvent writes one record with event set. A nil logg falls back to the
// logger carried by ctx, then to L.
func LogEvent(ctx context.Context, logg *slog.Logger, level slog.Level, event string, attrs ...slog.Attr) {
	if logg == nil {
		logg = FromContext(ctx)
	}
	if logg == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if event != "" {
		attrs = append([]slog.Attr{slog.String("event", event)}, attrs...)
	}
	logg.LogAttrs(ctx, level, "", attrs...)
}

// Component returns L scoped to name, or nil before InitLogger.
func Component(name string) *slog.Logger {
	if L == nil {
		return nil
	}
	if name = strings.TrimSpace(name); name == "" {
		return L
	}
	return L.With("component", name)
}

// Event logs event for component at level.
func Event(ctx context.Context, component string, level slog.Level, event string, attrs ...slog.Attr) {
	logg := Component(component)
	if logg == nil {
		if logg = FromContext(ctx); logg != nil && strings.TrimSpace(component) != "" {
			logg = logg.With("component", strings.TrimSpace(component))
		}
	}
	LogEvent(ctx, logg, level, event, attrs...)
}

func Debug(ctx context.Context, component, event string, attrs ...slog.Attr) {
	Event(ctx, component, slog.LevelDebug, event, attrs...)
}

func Info(ctx context.Context, component, event string, attrs ...slog.Attr) {
	Event(ctx, component, slog.LevelInfo, event, attrs...)
}

func Warn(ctx context.Context, component, event string, attrs ...slog.Attr) {
	Event(ctx, component, slog.LevelWarn, event, attrs...)
}

func Error(ctx context.Context, component, event string, attrs ...slog.Attr) {
	Event(ctx, component, slog.LevelError, event, attrs...)
}

// ShouldSampleDebug reports whether the next high volume debug event should
// be logged. The debug profile logs all of them.
func ShouldSampleDebug() bool {
	return debugSample.allow()
}
