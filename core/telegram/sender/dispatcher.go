// Package sender delivers outbound Telegram calls from a bounded worker pool
// so that update handlers return before the Bot API answers.
package sender

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/m3rciful/seerrbot/core/logger"
	"github.com/m3rciful/seerrbot/core/telegram/netutil"

	tele "gopkg.in/telebot.v4"
)

var (
	// ErrQueueClosed is returned by Enqueue after Close.
	ErrQueueClosed = errors.New("telegram sender: queue closed")
	// ErrQueueFull is returned when every queue slot is taken.
	ErrQueueFull = errors.New("telegram sender: queue full")
)

// Options tunes a Dispatcher. Zero values select the defaults noted per field.
type Options struct {
	QueueSize int // 256
	Workers   int // 4
	// MaxRetries is the number of extra attempts after a transient failure.
	MaxRetries int
	// RetryBackoff is multiplied by the attempt number. 2s.
	RetryBackoff time.Duration
	// MaxDuration bounds one job including its retries. 12s.
	MaxDuration time.Duration
	// Observe, when set, is told how every job ended: "ok" or the error kind.
	Observe func(action, outcome string, took time.Duration)
}

type job struct {
	ctx      context.Context
	action   string
	endpoint string
	run      func() error
}

// Dispatcher runs queued send jobs on a fixed set of workers.
type Dispatcher struct {
	opts Options
	jobs chan job
	wg   sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	failed atomic.Uint64
}

// NewDispatcher starts the workers.
func NewDispatcher(opts Options) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	opts.MaxRetries = max(opts.MaxRetries, 0)
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 2 * time.Second
	}
	if opts.MaxDuration <= 0 {
		opts.MaxDuration = 12 * time.Second
	}

	d := &Dispatcher{opts: opts, jobs: make(chan job, opts.QueueSize)}
	d.wg.Add(opts.Workers)
	for i := 0; i < opts.Workers; i++ {
		go func() {
			defer d.wg.Done()
			for j := range d.jobs {
				d.deliver(j)
			}
		}()
	}
	return d
}

// Enqueue schedules run without waiting for it. run may be called more than
// once when a transient error is retried.
func (d *Dispatcher) Enqueue(ctx context.Context, action, endpoint string, run func() error) error {
	if run == nil {
		return errors.New("telegram sender: nil run function")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrQueueClosed
	}
	select {
	case d.jobs <- job{ctx: ctx, action: action, endpoint: endpoint, run: run}:
		return nil
	default:
		return ErrQueueFull
	}
}

// ErrorCount returns the number of jobs that ultimately failed.
func (d *Dispatcher) ErrorCount() uint64 {
	return d.failed.Load()
}

// Close stops accepting jobs and waits until the queued ones are delivered.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.jobs)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) deliver(j job) {
	ctx, cancel := context.WithTimeout(j.ctx, d.opts.MaxDuration)
	defer cancel()

	start := time.Now()
	attempt := 1
	err := j.run()
	for ; err != nil && attempt <= d.opts.MaxRetries; attempt++ {
		delay, ok := d.retryDelay(err, attempt)
		if !ok {
			break
		}
		if !sleep(ctx, delay) {
			err = errors.Join(err, ctx.Err())
			break
		}
		logger.Debug(j.ctx, "tg.sender", "send.retry", j.attrs(
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", delay),
			slog.String("error_kind", classify(err)),
		)...)
		err = j.run()
	}
	d.finish(j, attempt, time.Since(start), err)
}

// retryDelay says how long to wait before the next attempt, if any. Flood
// control answers carry their own wait time.
func (d *Dispatcher) retryDelay(err error, attempt int) (time.Duration, bool) {
	var flood tele.FloodError
	if errors.As(err, &flood) {
		if flood.RetryAfter > 0 {
			return time.Duration(flood.RetryAfter) * time.Second, true
		}
		return d.opts.RetryBackoff, true
	}
	if netutil.ShouldRetry(err) {
		return d.opts.RetryBackoff * time.Duration(attempt), true
	}
	return 0, false
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (d *Dispatcher) finish(j job, attempts int, took time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = classify(err)
		d.failed.Add(1)
		logger.Error(j.ctx, "tg.sender", "send.fail", j.attrs(
			slog.String("error", redact(err)),
			slog.String("error_kind", outcome),
			slog.Int("attempts", attempts),
			slog.Duration("elapsed", took),
		)...)
	} else {
		logger.Debug(j.ctx, "tg.sender", "send.success", j.attrs(
			slog.Int("attempts", attempts),
			slog.Duration("elapsed", took),
		)...)
	}
	if d.opts.Observe != nil {
		d.opts.Observe(j.action, outcome, took)
	}
}

// attrs prefixes extra with the job identity. Update ids come from the
// context through the log handler.
func (j job) attrs(extra ...slog.Attr) []slog.Attr {
	attrs := []slog.Attr{slog.String("action", j.action)}
	if j.endpoint != "" {
		attrs = append(attrs, slog.String("endpoint", j.endpoint))
	}
	return append(attrs, extra...)
}
