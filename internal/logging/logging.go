// Package logging provides the pluggable structured-logging sink the
// routing/pipelining core writes diagnostics to: an interface a caller
// can swap out, with a default dual file+console implementation.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"
)

// Sink is the diagnostic output surface the pipeline engine and router
// write to: dead-lock warnings, MOVED/ASK redirection notices, and
// per-group retry failures.
type Sink interface {
	Debugf(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// Noop discards everything. Useful in tests that don't want diagnostic
// noise.
type Noop struct{}

func (Noop) Debugf(string, ...any) {}
func (Noop) Warnf(string, ...any)  {}
func (Noop) Errorf(string, ...any) {}

// dualSink writes everything to the file logger, and additionally
// echoes warnings and errors to console.
type dualSink struct {
	mu      sync.Mutex
	file    *log.Logger
	console *log.Logger
}

// NewDual builds a Sink that writes every message to w and mirrors
// warnings/errors to os.Stderr.
func NewDual(w io.Writer) Sink {
	if w == nil {
		w = io.Discard
	}
	return &dualSink{
		file:    log.New(w, "", 0),
		console: log.New(os.Stderr, "", 0),
	}
}

// Default returns a Sink that writes every message to stdout (no separate
// file) and mirrors warnings/errors to stderr, suitable as an
// out-of-the-box default.
func Default() Sink {
	return NewDual(os.Stdout)
}

func (s *dualSink) format(level, format string, args ...any) string {
	ts := time.Now().Format("2006/01/02 15:04:05")
	return fmt.Sprintf("%s [%s] %s", ts, level, fmt.Sprintf(format, args...))
}

func (s *dualSink) Debugf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.file.Println(s.format("DEBUG", format, args...))
}

func (s *dualSink) Warnf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := s.format("WARN", format, args...)
	s.file.Println(msg)
	s.console.Println(msg)
}

func (s *dualSink) Errorf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := s.format("ERROR", format, args...)
	s.file.Println(msg)
	s.console.Println(msg)
}
