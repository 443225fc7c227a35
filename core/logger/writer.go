package logger

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"sync"
)

var errWriterClosed = errors.New("logger: writer closed")

// sink is one destination; lines below min are not written to it.
type sink struct {
	w      *bufio.Writer
	min    slog.Level
	closer io.Closer
}

func newSink(w io.Writer, floor slog.Level) sink {
	return sink{w: bufio.NewWriterSize(w, 64*1024), min: floor}
}

// fileSink is a sink that owns f and closes it on shutdown.
func fileSink(f io.WriteCloser, floor slog.Level) sink {
	s := newSink(f, floor)
	s.closer = f
	return s
}

type line struct {
	level slog.Level
	data  []byte
}

// fanout writes lines to every sink from a single goroutine so slow disks
// never block a handler for longer than a channel send.
type fanout struct {
	lines   chan line
	flushes chan chan error
	done    chan struct{}

	mu     sync.RWMutex
	closed bool

	errMu sync.Mutex
	err   error

	sinks []sink
}

func newFanout(sinks []sink) *fanout {
	f := &fanout{
		lines:   make(chan line, 256),
		flushes: make(chan chan error),
		done:    make(chan struct{}),
		sinks:   sinks,
	}
	go f.run()
	return f
}

func (f *fanout) run() {
	defer close(f.done)
	for {
		select {
		case l, ok := <-f.lines:
			if !ok {
				f.setErr(f.flushSinks())
				return
			}
			f.setErr(f.emit(l))
		case ack := <-f.flushes:
			ack <- f.flushSinks()
		}
	}
}

func (f *fanout) write(level slog.Level, data []byte) error {
	if err := f.firstErr(); err != nil {
		return err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return errWriterClosed
	}
	f.lines <- line{level: level, data: append([]byte(nil), data...)}
	return nil
}

func (f *fanout) flush() error {
	f.mu.RLock()
	if f.closed {
		f.mu.RUnlock()
		return f.firstErr()
	}
	ack := make(chan error, 1)
	f.flushes <- ack
	f.mu.RUnlock()
	return <-ack
}

// close drains queued lines, flushes and closes the sinks.
func (f *fanout) close() error {
	f.mu.Lock()
	if !f.closed {
		f.closed = true
		close(f.lines)
	}
	f.mu.Unlock()
	<-f.done

	errs := []error{f.firstErr()}
	for _, s := range f.sinks {
		if s.closer != nil {
			errs = append(errs, s.closer.Close())
		}
	}
	return errors.Join(errs...)
}

func (f *fanout) emit(l line) error {
	for _, s := range f.sinks {
		if l.level < s.min {
			continue
		}
		if _, err := s.w.Write(l.data); err != nil {
			return err
		}
		if err := s.w.Flush(); err != nil {
			return err
		}
	}
	return nil
}

func (f *fanout) flushSinks() error {
	var errs []error
	for _, s := range f.sinks {
		errs = append(errs, s.w.Flush())
	}
	return errors.Join(errs...)
}

func (f *fanout) firstErr() error {
	f.errMu.Lock()
	defer f.errMu.Unlock()
	return f.err
}

func (f *fanout) setErr(err error) {
	if err == nil {
		return
	}
	f.errMu.Lock()
	defer f.errMu.Unlock()
	if f.err == nil {
		f.err = err
	}
}
