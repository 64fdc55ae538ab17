package fxrunner

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"fxpanel/internal/domain"
)

const (
	defaultConsoleLines = 10
	sinkQueueSize       = 512
)

// ConsoleOptions configures a ConsoleBuffer.
type ConsoleOptions struct {
	// LogPath is the durable sink file. Empty disables the sink.
	LogPath string
	// Lines is the ring capacity (K).
	Lines int
}

// ConsoleBuffer keeps the last K chunks of server output in memory, appends
// everything to a log file, and mirrors output into a capture accumulator
// while a command capture is open.
type ConsoleBuffer struct {
	mu        sync.Mutex
	ring      []domain.ConsoleChunk
	head      int // index of the oldest chunk once the ring is full
	limit     int
	capturing bool
	acc       strings.Builder
	closed    bool

	sink    chan []byte
	done    chan struct{}
	size    atomic.Int64
	dropped atomic.Int64

	clock  Clock
	logger *slog.Logger
}

// NewConsoleBuffer creates a buffer. An existing log file at opts.LogPath is
// rotated to fxserver_<timestamp>.log first. Sink failures are logged and the
// buffer keeps working in memory.
func NewConsoleBuffer(opts ConsoleOptions, clock Clock, logger *slog.Logger) *ConsoleBuffer {
	if opts.Lines <= 0 {
		opts.Lines = defaultConsoleLines
	}
	if clock == nil {
		clock = RealClock()
	}
	b := &ConsoleBuffer{
		ring:   make([]domain.ConsoleChunk, 0, opts.Lines),
		limit:  opts.Lines,
		clock:  clock,
		logger: logger,
	}
	if opts.LogPath == "" {
		return b
	}

	f, err := openSink(opts.LogPath, clock.Now())
	if err != nil {
		logger.Warn("console log sink disabled", "path", opts.LogPath, "error", err)
		return b
	}
	b.sink = make(chan []byte, sinkQueueSize)
	b.done = make(chan struct{})
	go b.drain(f)
	return b
}

// openSink rotates an old log out of the way and opens a fresh one.
func openSink(path string, now time.Time) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		ext := filepath.Ext(path)
		base := strings.TrimSuffix(path, ext)
		rotated := fmt.Sprintf("%s_%s%s", base, now.Format("20060102-150405"), ext)
		if err := os.Rename(path, rotated); err != nil {
			return nil, fmt.Errorf("rotate old log: %w", err)
		}
	}
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}

func (b *ConsoleBuffer) drain(f *os.File) {
	defer close(b.done)
	for data := range b.sink {
		n, err := f.Write(data)
		b.size.Add(int64(n))
		if err != nil {
			b.logger.Debug("console log write failed", "error", err)
		}
	}
	if err := f.Close(); err != nil {
		b.logger.Debug("console log close failed", "error", err)
	}
}

// Write records one chunk of output.
func (b *ConsoleBuffer) Write(kind domain.ConsoleKind, text string) {
	if text == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.push(domain.ConsoleChunk{Kind: kind, Text: text, At: b.clock.Now()})
	if b.capturing && (kind == domain.ConsoleStdout || kind == domain.ConsoleStderr) {
		b.acc.WriteString(text)
	}

	if kind == domain.ConsoleCommand {
		text = "> " + text + "\n"
	}
	b.enqueue(text)
}

// WriteHeader marks the start of a new server session in the ring and sink.
func (b *ConsoleBuffer) WriteHeader() {
	rule := strings.Repeat("=", 60)
	now := b.clock.Now()
	text := fmt.Sprintf("\n%s\n== FXServer started %s\n%s\n", rule, now.Format(time.RFC3339), rule)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.push(domain.ConsoleChunk{Kind: domain.ConsoleHeader, Text: text, At: now})
	b.enqueue(text)
}

// push must be called with b.mu held.
func (b *ConsoleBuffer) push(c domain.ConsoleChunk) {
	if len(b.ring) < b.limit {
		b.ring = append(b.ring, c)
		return
	}
	b.ring[b.head] = c
	b.head = (b.head + 1) % b.limit
}

// enqueue must be called with b.mu held. A full queue drops the chunk.
func (b *ConsoleBuffer) enqueue(text string) {
	if b.sink == nil || b.closed {
		return
	}
	select {
	case b.sink <- []byte(text):
	default:
		b.dropped.Add(1)
	}
}

// Recent returns the ring contents, oldest first.
func (b *ConsoleBuffer) Recent() []domain.ConsoleChunk {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.ConsoleChunk, 0, len(b.ring))
	out = append(out, b.ring[b.head:]...)
	return append(out, b.ring[:b.head]...)
}

// Size reports the bytes written to the sink this session.
func (b *ConsoleBuffer) Size() int64 { return b.size.Load() }

// Dropped reports the chunks discarded because the sink queue was full.
func (b *ConsoleBuffer) Dropped() int64 { return b.dropped.Load() }

// StartCapture resets the accumulator and opens a capture window.
func (b *ConsoleBuffer) StartCapture() {
	b.mu.Lock()
	b.acc.Reset()
	b.capturing = true
	b.mu.Unlock()
}

// StopCapture closes the capture window and returns what it collected.
func (b *ConsoleBuffer) StopCapture() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.capturing = false
	out := b.acc.String()
	b.acc.Reset()
	return out
}

// Capturing reports whether a capture window is open.
func (b *ConsoleBuffer) Capturing() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.capturing
}

// Writer adapts the buffer to an io.Writer tagging every chunk with kind.
// It never returns an error so process pipes are never broken by the sink.
func (b *ConsoleBuffer) Writer(kind domain.ConsoleKind) io.Writer {
	return consoleWriter{b: b, kind: kind}
}

type consoleWriter struct {
	b    *ConsoleBuffer
	kind domain.ConsoleKind
}

func (w consoleWriter) Write(p []byte) (int, error) {
	w.b.Write(w.kind, string(p))
	return len(p), nil
}

// Close flushes and closes the sink. Writes after Close only reach the ring.
func (b *ConsoleBuffer) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	if b.sink != nil {
		close(b.sink)
	}
	b.mu.Unlock()

	if b.done != nil {
		<-b.done
	}
}
