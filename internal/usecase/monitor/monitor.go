// Package monitor tracks server health: hitch warnings printed by FXServer and
// unexpected process exits.
package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"sync"
	"time"

	"fxpanel/internal/domain"
)

// hitchRe matches FXServer's "server thread hitch warning: timer interval of
// 152 milliseconds" lines.
var hitchRe = regexp.MustCompile(`hitch warning: timer interval of (\d+) milliseconds`)

// maxPartialLine bounds the buffered incomplete line.
const maxPartialLine = 4096

type hitch struct {
	at time.Time
	ms int
}

// ExitRecord describes the last unexpected server exit.
type ExitRecord struct {
	At       time.Time `json:"at"`
	PID      int       `json:"pid"`
	ExitCode int       `json:"exit_code"`
	Uptime   string    `json:"uptime"`
}

// Monitor implements domain.HitchTracker. It is also an io.Writer fed with
// the server's stdout.
type Monitor struct {
	mu       sync.Mutex
	window   time.Duration
	hitches  []hitch
	partial  []byte
	crashes  int
	lastExit *ExitRecord

	now    func() time.Time
	bus    domain.EventBus
	logger *slog.Logger
}

// New creates a Monitor that keeps hitches for window.
func New(window time.Duration, bus domain.EventBus, logger *slog.Logger) *Monitor {
	if window <= 0 {
		window = time.Minute
	}
	return &Monitor{window: window, now: time.Now, bus: bus, logger: logger}
}

// Write scans server output for hitch warnings. It never fails.
func (m *Monitor) Write(p []byte) (int, error) {
	m.mu.Lock()
	data := append(m.partial, p...)
	var found []int
	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		if ms, ok := parseHitch(data[:i]); ok {
			found = append(found, ms)
		}
		data = data[i+1:]
	}
	if len(data) > maxPartialLine {
		data = data[len(data)-maxPartialLine:]
	}
	m.partial = append([]byte(nil), data...)
	m.mu.Unlock()

	for _, ms := range found {
		m.RecordHitch(ms)
	}
	return len(p), nil
}

func parseHitch(line []byte) (int, bool) {
	sub := hitchRe.FindSubmatch(line)
	if sub == nil {
		return 0, false
	}
	ms, err := strconv.Atoi(string(sub[1]))
	if err != nil || ms <= 0 {
		return 0, false
	}
	return ms, true
}

// RecordHitch stores a hitch of ms milliseconds.
func (m *Monitor) RecordHitch(ms int) {
	now := m.now()
	m.mu.Lock()
	m.prune(now)
	m.hitches = append(m.hitches, hitch{at: now, ms: ms})
	m.mu.Unlock()

	m.logger.Debug("server hitch", "ms", ms)
	m.emit(domain.EventHitchRecorded, map[string]int{"ms": ms})
}

// ClearHitches forgets all hitches. Called on every spawn.
func (m *Monitor) ClearHitches() {
	m.mu.Lock()
	m.hitches = nil
	m.partial = nil
	m.mu.Unlock()
}

// HitchTime returns the summed hitch time inside the window.
func (m *Monitor) HitchTime() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prune(m.now())
	total := 0
	for _, h := range m.hitches {
		total += h.ms
	}
	return time.Duration(total) * time.Millisecond
}

// HitchSummary formats HitchTime as "Nms/min", or "Ns/min (P%)" above five
// seconds.
func (m *Monitor) HitchSummary() string {
	return FormatHitches(m.HitchTime())
}

// FormatHitches renders a per-minute hitch total.
func FormatHitches(total time.Duration) string {
	ms := total.Milliseconds()
	if ms <= 5000 {
		return fmt.Sprintf("%dms/min", ms)
	}
	secs := math.Round(float64(ms) / 1000)
	pct := math.Round(secs / 60 * 100)
	return fmt.Sprintf("%.0fs/min (%.0f%%)", secs, pct)
}

// prune must be called with m.mu held.
func (m *Monitor) prune(now time.Time) {
	cutoff := now.Add(-m.window)
	i := 0
	for i < len(m.hitches) && !m.hitches[i].at.After(cutoff) {
		i++
	}
	m.hitches = m.hitches[i:]
}

// Watch subscribes to server exits. The returned func unsubscribes.
func (m *Monitor) Watch(bus domain.EventBus) func() {
	return bus.Subscribe(domain.EventServerExited, func(_ context.Context, e domain.Event) {
		var p domain.ServerEventPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			m.logger.Debug("malformed exit event", "error", err)
			return
		}
		rec := &ExitRecord{At: e.Timestamp, PID: p.PID, Uptime: p.Uptime}
		if p.ExitCode != nil {
			rec.ExitCode = *p.ExitCode
		}
		m.mu.Lock()
		m.crashes++
		m.lastExit = rec
		m.mu.Unlock()
		m.logger.Warn("server exited unexpectedly", "pid", rec.PID, "code", rec.ExitCode, "uptime", rec.Uptime)
	})
}

// Crashes returns the number of unexpected exits seen and the last one.
func (m *Monitor) Crashes() (int, *ExitRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastExit == nil {
		return m.crashes, nil
	}
	last := *m.lastExit
	return m.crashes, &last
}

func (m *Monitor) emit(t domain.EventType, payload any) {
	if m.bus == nil {
		return
	}
	data, _ := json.Marshal(payload)
	m.bus.Publish(context.Background(), domain.Event{Type: t, Timestamp: m.now(), Payload: data})
}
