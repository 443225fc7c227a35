package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/m3rciful/seerrbot/core/logger"
)

const previewFiles = 6

// ErrDirty reports a schema left half-applied by an earlier failed run.
// It needs a manual fix before the bot will start.
var ErrDirty = errors.New("database schema is dirty")

// RunMigrations waits for the server, then applies every pending up migration.
func RunMigrations(cfg Config) error {
	ctx := context.Background()
	dsn := cfg.URL()
	if err := WaitReady(ctx, dsn, cfg.readyTimeout()); err != nil {
		logger.LogEvent(ctx, logger.MIG, slog.LevelError, "migrate.wait", slog.String("err", err.Error()))
		return err
	}

	p, err := loadPlan(cfg.MigrationsPath)
	if err != nil {
		logger.LogEvent(ctx, logger.MIG, slog.LevelError, "migrate.resolve", slog.String("err", err.Error()))
		return err
	}
	logger.LogEvent(ctx, logger.MIG, slog.LevelDebug, "migrate.resolve", p.attrs(p.files)...)

	m, err := migrate.New(p.sourceURL(), dsn)
	if err != nil {
		logger.LogEvent(ctx, logger.MIG, slog.LevelError, "migrate.init", slog.String("err", err.Error()))
		return fmt.Errorf("init migrations: %w", err)
	}
	defer func() {
		if serr, derr := m.Close(); serr != nil || derr != nil {
			logger.LogEvent(ctx, logger.MIG, slog.LevelWarn, "migrate.close",
				slog.String("err", errors.Join(serr, derr).Error()))
		}
	}()

	from, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		from = 0
	case err != nil:
		return fmt.Errorf("read schema version: %w", err)
	case dirty:
		logger.LogEvent(ctx, logger.MIG, slog.LevelError, "migrate.dirty", slog.Uint64("version", uint64(from)))
		return fmt.Errorf("%w at version %d", ErrDirty, from)
	}

	start := time.Now()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		logger.LogEvent(ctx, logger.MIG, slog.LevelError, "migrate.apply",
			slog.Uint64("from_ver", uint64(from)),
			slog.Duration("duration", logger.Took(start)),
			slog.String("err", err.Error()),
		)
		return fmt.Errorf("apply migrations: %w", err)
	}
	took := logger.Took(start)

	to := from
	if v, _, err := m.Version(); err == nil {
		to = v
	}
	applied := p.between(uint64(from), uint64(to))
	if len(applied) > 0 {
		logger.LogEvent(ctx, logger.MIG, slog.LevelDebug, "migrate.files", p.attrs(applied)...)
	}
	logger.LogEvent(ctx, logger.MIG, slog.LevelInfo, "migrate.summary",
		slog.Uint64("from_ver", uint64(from)),
		slog.Uint64("to_ver", uint64(to)),
		slog.Int("applied", len(applied)),
		slog.Duration("duration", took),
	)
	return nil
}

// plan is the on-disk view of the migrations directory.
type plan struct {
	dir   string
	files []string
}

func loadPlan(path string) (plan, error) {
	dir, err := resolveMigrationsPath(path)
	if err != nil {
		return plan{}, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return plan{}, fmt.Errorf("read migrations dir: %w", err)
	}
	p := plan{dir: dir}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".up.sql") {
			p.files = append(p.files, e.Name())
		}
	}
	sort.Strings(p.files)
	return p, nil
}

func (p plan) sourceURL() string {
	return "file://" + filepath.ToSlash(p.dir)
}

// between lists the up files with from < version <= to.
func (p plan) between(from, to uint64) []string {
	var out []string
	if to <= from {
		return out
	}
	for _, f := range p.files {
		if v := fileVersion(f); v > from && v <= to {
			out = append(out, f)
		}
	}
	return out
}

func (p plan) attrs(files []string) []slog.Attr {
	attrs := []slog.Attr{
		slog.String("path", p.dir),
		slog.Int("files_total", len(files)),
	}
	preview, truncated := logger.SummarizeStrings(files, previewFiles)
	if preview != "" {
		attrs = append(attrs, slog.String("files_preview", preview))
	}
	if truncated {
		attrs = append(attrs, slog.Bool("files_truncated", true))
	}
	return attrs
}

func resolveMigrationsPath(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		p = "migrations"
	}
	if filepath.IsAbs(p) {
		return p, nil
	}
	return filepath.Abs(p)
}

func fileVersion(name string) uint64 {
	head, _, _ := strings.Cut(name, "_")
	v, _ := strconv.ParseUint(head, 10, 64)
	return v
}
