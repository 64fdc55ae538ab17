package gateway

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"

	"fxpanel/internal/domain"
)

// Metrics counts supervisor events for the /metrics endpoint.
type Metrics struct {
	CommandsSent     atomic.Int64
	CommandsCaptured atomic.Int64
	Spawns           atomic.Int64
	Exits            atomic.Int64
	Restarts         atomic.Int64
	Hitches          atomic.Int64
	AnnounceFailures atomic.Int64

	unsub func()
}

// NewMetrics subscribes the counters to bus. A nil bus leaves them at zero.
func NewMetrics(bus domain.EventBus) *Metrics {
	m := &Metrics{}
	if bus == nil {
		return m
	}
	counters := map[domain.EventType]*atomic.Int64{
		domain.EventCommandSent:        &m.CommandsSent,
		domain.EventCommandCaptured:    &m.CommandsCaptured,
		domain.EventServerSpawned:      &m.Spawns,
		domain.EventServerExited:       &m.Exits,
		domain.EventServerRestart:      &m.Restarts,
		domain.EventHitchRecorded:      &m.Hitches,
		domain.EventAnnouncementFailed: &m.AnnounceFailures,
	}
	m.unsub = bus.SubscribeAll(func(_ context.Context, e domain.Event) {
		if c, ok := counters[e.Type]; ok {
			c.Add(1)
		}
	})
	return m
}

// Close stops counting.
func (m *Metrics) Close() {
	if m.unsub != nil {
		m.unsub()
	}
}

// metricsHandler serves GET /metrics in Prometheus text format.
func metricsHandler(deps HandlerDeps, metrics *Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		st := deps.Supervisor.Status()
		up := 0
		if st.State == domain.ServerStateRunning {
			up = 1
		}

		gauge(w, "fxpanel_server_up", "Whether the server process is running.", float64(up))
		gauge(w, "fxpanel_server_uptime_seconds", "Seconds since the server was spawned.", st.Uptime.Seconds())
		gauge(w, "fxpanel_console_log_bytes", "Bytes written to the console log this session.", float64(st.LogSize))

		counter(w, "fxpanel_commands_sent_total", "Commands written to the server.", metrics.CommandsSent.Load())
		counter(w, "fxpanel_commands_captured_total", "Commands whose output was captured.", metrics.CommandsCaptured.Load())
		counter(w, "fxpanel_server_spawns_total", "Server processes spawned.", metrics.Spawns.Load())
		counter(w, "fxpanel_server_exits_total", "Unexpected server exits.", metrics.Exits.Load())
		counter(w, "fxpanel_server_restarts_total", "Server restarts requested.", metrics.Restarts.Load())
		counter(w, "fxpanel_hitches_total", "Hitch warnings reported by the server.", metrics.Hitches.Load())
		counter(w, "fxpanel_announce_failures_total", "Failed announcement deliveries.", metrics.AnnounceFailures.Load())

		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)
		gauge(w, "go_goroutines", "Number of goroutines.", float64(runtime.NumGoroutine()))
		gauge(w, "go_memstats_alloc_bytes", "Bytes of allocated heap objects.", float64(mem.Alloc))
		gauge(w, "go_memstats_sys_bytes", "Total bytes of memory obtained from the OS.", float64(mem.Sys))
	}
}

func gauge(w http.ResponseWriter, name, help string, v float64) {
	fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s gauge\n%s %g\n", name, help, name, name, v)
}

func counter(w http.ResponseWriter, name, help string, v int64) {
	fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s counter\n%s %d\n", name, help, name, name, v)
}
