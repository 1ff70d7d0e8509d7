package monitoring

import "time"

// Summary provides high-level metrics for the JSON dashboard endpoint.
type Summary struct {
	TotalRequests     int64   `json:"total_requests"`
	AverageLatencyMs  float64 `json:"average_latency_ms"`
	ErrorRate         float64 `json:"error_rate"`
	Transitions       int64   `json:"transitions"`
	Refusals          int64   `json:"refusals"`
	Recoveries        int64   `json:"recoveries"`
	Relocations       int64   `json:"relocations"`
	ActiveConnections int64   `json:"active_connections"`
	UptimeSeconds     float64 `json:"uptime_seconds"`
}

// Summarize returns a point-in-time summary of the counters the
// settings UI cares about. The full series stays on /metrics.
func (m *Metrics) Summarize() Summary {
	m.mu.RLock()
	snap := m.snapshot
	m.mu.RUnlock()

	var avgMs, errRate float64
	if snap.RequestCount > 0 {
		avgMs = snap.TotalDuration / float64(snap.RequestCount) * 1000
	}
	if snap.TotalRequests > 0 {
		errRate = float64(snap.TotalErrors) / float64(snap.TotalRequests)
	}

	return Summary{
		TotalRequests:     snap.TotalRequests,
		AverageLatencyMs:  avgMs,
		ErrorRate:         errRate,
		Transitions:       snap.Transitions,
		Refusals:          snap.Refusals,
		Recoveries:        snap.Recoveries,
		Relocations:       snap.Relocations,
		ActiveConnections: snap.ActiveConnections,
		UptimeSeconds:     time.Since(m.startTime).Seconds(),
	}
}
