// Package logging builds the process logger. Output goes to a rotating file
// because the terminal belongs to the monitor UI.
package logging

import (
	"bytes"
	"io"
	"log"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ProvidenceIT/ride-sensors/internal/config"
)

// New returns a logger writing to the rotating file described by cfg, and
// the file writer so the caller can close it on exit. Extra writers receive
// every line as well.
func New(cfg *config.Config, extra ...io.Writer) (*log.Logger, io.Closer) {
	file := &lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAge:     cfg.LogMaxAgeDays,
	}
	var out io.Writer = file
	if len(extra) > 0 {
		out = io.MultiWriter(append([]io.Writer{file}, extra...)...)
	}
	return log.New(out, "", log.LstdFlags|log.Lmicroseconds), file
}

// LineWriter splits written bytes into lines and sends each one to a
// channel. When the channel is full the line is dropped so logging never
// blocks on the UI.
type LineWriter struct {
	mu      sync.Mutex
	pending []byte
	lines   chan string
	closed  bool
}

func NewLineWriter(capacity int) *LineWriter {
	return &LineWriter{lines: make(chan string, capacity)}
}

// Lines is closed by Close
func (w *LineWriter) Lines() <-chan string {
	return w.lines
}

func (w *LineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return len(p), nil
	}
	w.pending = append(w.pending, p...)
	for {
		i := bytes.IndexByte(w.pending, '\n')
		if i < 0 {
			break
		}
		line := string(w.pending[:i])
		w.pending = w.pending[i+1:]
		select {
		case w.lines <- line:
		default:
		}
	}
	return len(p), nil
}

func (w *LineWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.closed {
		w.closed = true
		close(w.lines)
	}
	return nil
}
