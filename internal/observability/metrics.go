package observability

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
)

// Metrics tracks operational counters for one mirror run. Every counter is
// safe for concurrent use; the wiring that feeds them lives with the
// component each counter describes (connpool's dial race, robots' cache,
// the webclient's redirect tracker, the engine's checkpoint manager) rather
// than here, since this package has no business reaching into theirs.
type Metrics struct {
	// Request/response counters, fed by MetricsRecorder off the Protocol
	// Session's exchange events.
	RequestsTotal  atomic.Int64
	RequestsFailed atomic.Int64
	ResponsesTotal atomic.Int64
	Responses2xx   atomic.Int64
	Responses3xx   atomic.Int64
	Responses4xx   atomic.Int64
	Responses5xx   atomic.Int64

	// Connection pool / happy-eyeballs counters, fed by connpool.Pool.
	DialRaceWinnersIPv4 atomic.Int64
	DialRaceWinnersIPv6 atomic.Int64
	DialSingleFamily    atomic.Int64
	ConnectionsOpened   atomic.Int64
	ConnectionsReused   atomic.Int64

	// Robots Checker counters, fed by robots.Checker.
	RobotsChecksAllowed  atomic.Int64
	RobotsChecksDenied   atomic.Int64
	RobotsFetchFailures  atomic.Int64

	// Redirect tracker counter, fed by webclient.WebClient.
	RedirectsFollowed atomic.Int64

	// Proxy rotation counters, fed by connpool.ProxyRotation.
	ProxyRotations atomic.Int64
	ProxyErrors    atomic.Int64

	// Extraction/writer counters, fed by processor.Processor.
	ItemsExtracted atomic.Int64
	ItemsDropped   atomic.Int64
	ItemsStored    atomic.Int64

	// Engine counters, fed by engine.Engine and its CheckpointManager.
	ActiveWorkers     atomic.Int32
	QueueDepth        atomic.Int64
	BytesDownloaded   atomic.Int64
	CheckpointsSaved  atomic.Int64

	logger *slog.Logger
}

// NewMetrics creates a new Metrics instance.
func NewMetrics(logger *slog.Logger) *Metrics {
	return &Metrics{
		logger: logger.With("component", "metrics"),
	}
}

// RecordDialWinner credits the address family that won a happy-eyeballs
// dial race, or the family dialed directly when only one was available.
func (m *Metrics) RecordDialWinner(family string) {
	switch family {
	case "ipv4":
		m.DialRaceWinnersIPv4.Add(1)
	case "ipv6":
		m.DialRaceWinnersIPv6.Add(1)
	default:
		m.DialSingleFamily.Add(1)
	}
}

// RecordConnection credits whether an acquired connection was reused from a
// HostPool or freshly dialed.
func (m *Metrics) RecordConnection(reused bool) {
	if reused {
		m.ConnectionsReused.Add(1)
	} else {
		m.ConnectionsOpened.Add(1)
	}
}

// RecordRobotsCheck credits one robots.txt policy decision.
func (m *Metrics) RecordRobotsCheck(allowed bool) {
	if allowed {
		m.RobotsChecksAllowed.Add(1)
	} else {
		m.RobotsChecksDenied.Add(1)
	}
}

// RecordRobotsFetchFailure credits a robots.txt fetch that fell back to an
// allow-all ruleset because the origin couldn't be reached.
func (m *Metrics) RecordRobotsFetchFailure() { m.RobotsFetchFailures.Add(1) }

// RecordRedirect credits one hop followed by the redirect tracker.
func (m *Metrics) RecordRedirect() { m.RedirectsFollowed.Add(1) }

// RecordProxyRotation credits one upstream proxy selection.
func (m *Metrics) RecordProxyRotation() { m.ProxyRotations.Add(1) }

// RecordProxyError credits one proxy marked unhealthy after a failed dial.
func (m *Metrics) RecordProxyError() { m.ProxyErrors.Add(1) }

// RecordCheckpointSaved credits one successful checkpoint write.
func (m *Metrics) RecordCheckpointSaved() { m.CheckpointsSaved.Add(1) }

// RecordItemExtracted credits one item that survived extraction and the
// pipeline intact.
func (m *Metrics) RecordItemExtracted() { m.ItemsExtracted.Add(1) }

// RecordItemDropped credits one item dropped by pipeline middleware.
func (m *Metrics) RecordItemDropped() { m.ItemsDropped.Add(1) }

// RecordItemStored credits one document successfully written to disk.
func (m *Metrics) RecordItemStored() { m.ItemsStored.Add(1) }

// SetActiveWorkers and SetQueueDepth are gauges the engine refreshes on its
// idle-monitor tick rather than incrementing, since both can go down.
func (m *Metrics) SetActiveWorkers(n int32) { m.ActiveWorkers.Store(n) }
func (m *Metrics) SetQueueDepth(n int64)    { m.QueueDepth.Store(n) }

// ServeHTTP serves metrics in Prometheus text exposition format.
func (m *Metrics) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	metrics := []struct {
		name  string
		help  string
		value int64
	}{
		{"mirrorctl_requests_total", "Total requests made", m.RequestsTotal.Load()},
		{"mirrorctl_requests_failed_total", "Total failed requests", m.RequestsFailed.Load()},
		{"mirrorctl_responses_total", "Total responses received", m.ResponsesTotal.Load()},
		{"mirrorctl_responses_2xx_total", "Total 2xx responses", m.Responses2xx.Load()},
		{"mirrorctl_responses_3xx_total", "Total 3xx responses", m.Responses3xx.Load()},
		{"mirrorctl_responses_4xx_total", "Total 4xx responses", m.Responses4xx.Load()},
		{"mirrorctl_responses_5xx_total", "Total 5xx responses", m.Responses5xx.Load()},
		{"mirrorctl_dial_race_winners_ipv4_total", "Happy-eyeballs races won by IPv4", m.DialRaceWinnersIPv4.Load()},
		{"mirrorctl_dial_race_winners_ipv6_total", "Happy-eyeballs races won by IPv6", m.DialRaceWinnersIPv6.Load()},
		{"mirrorctl_dial_single_family_total", "Dials with only one address family available", m.DialSingleFamily.Load()},
		{"mirrorctl_connections_opened_total", "Connections freshly dialed", m.ConnectionsOpened.Load()},
		{"mirrorctl_connections_reused_total", "Connections reused from a HostPool", m.ConnectionsReused.Load()},
		{"mirrorctl_robots_checks_allowed_total", "robots.txt checks that allowed the fetch", m.RobotsChecksAllowed.Load()},
		{"mirrorctl_robots_checks_denied_total", "robots.txt checks that denied the fetch", m.RobotsChecksDenied.Load()},
		{"mirrorctl_robots_fetch_failures_total", "robots.txt fetches that fell back to allow-all", m.RobotsFetchFailures.Load()},
		{"mirrorctl_redirects_followed_total", "Redirect hops followed", m.RedirectsFollowed.Load()},
		{"mirrorctl_proxy_rotations_total", "Total proxy rotations", m.ProxyRotations.Load()},
		{"mirrorctl_proxy_errors_total", "Total proxy errors", m.ProxyErrors.Load()},
		{"mirrorctl_items_extracted_total", "Total items extracted", m.ItemsExtracted.Load()},
		{"mirrorctl_items_dropped_total", "Total items dropped by pipeline middleware", m.ItemsDropped.Load()},
		{"mirrorctl_items_stored_total", "Total documents written to disk", m.ItemsStored.Load()},
		{"mirrorctl_active_workers", "Currently active workers", int64(m.ActiveWorkers.Load())},
		{"mirrorctl_queue_depth", "Current URL queue depth", m.QueueDepth.Load()},
		{"mirrorctl_bytes_downloaded_total", "Total bytes downloaded", m.BytesDownloaded.Load()},
		{"mirrorctl_checkpoints_saved_total", "Total checkpoint writes", m.CheckpointsSaved.Load()},
	}

	for _, metric := range metrics {
		fmt.Fprintf(w, "# HELP %s %s\n", metric.name, metric.help)
		fmt.Fprintf(w, "# TYPE %s counter\n", metric.name)
		fmt.Fprintf(w, "%s %d\n", metric.name, metric.value)
	}
}

// StartServer starts the metrics HTTP server.
func (m *Metrics) StartServer(port int, path string) error {
	mux := http.NewServeMux()
	mux.Handle(path, m)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})

	addr := fmt.Sprintf(":%d", port)
	m.logger.Info("metrics server starting", "addr", addr, "path", path)

	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			m.logger.Error("metrics server error", "error", err)
		}
	}()

	return nil
}

// Snapshot returns a subset of counters as a map, for the status endpoint.
func (m *Metrics) Snapshot() map[string]int64 {
	return map[string]int64{
		"requests_total":       m.RequestsTotal.Load(),
		"requests_failed":      m.RequestsFailed.Load(),
		"responses_total":      m.ResponsesTotal.Load(),
		"responses_2xx":        m.Responses2xx.Load(),
		"responses_4xx":        m.Responses4xx.Load(),
		"responses_5xx":        m.Responses5xx.Load(),
		"connections_reused":   m.ConnectionsReused.Load(),
		"robots_checks_denied": m.RobotsChecksDenied.Load(),
		"redirects_followed":   m.RedirectsFollowed.Load(),
		"items_extracted":      m.ItemsExtracted.Load(),
		"items_dropped":        m.ItemsDropped.Load(),
		"items_stored":         m.ItemsStored.Load(),
		"active_workers":       int64(m.ActiveWorkers.Load()),
		"queue_depth":          m.QueueDepth.Load(),
		"bytes_downloaded":     m.BytesDownloaded.Load(),
		"checkpoints_saved":    m.CheckpointsSaved.Load(),
	}
}
