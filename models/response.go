package models

// SearchResponse is the response for GET/POST /api/v1/search.
type SearchResponse struct {
	// Success is true for the success and no_results outcomes.
	Success bool `json:"success"`

	// Status is the outcome kind: "success", "no_results", "blocked" or
	// "transient_error".
	Status OutcomeKind `json:"status"`

	Query        string `json:"query"`
	Jurisdiction string `json:"jurisdiction"`

	// Records is always present on success and no_results (possibly empty).
	Records []Record `json:"records"`
	Count   int      `json:"count"`

	// Reason explains a blocked outcome.
	Reason string `json:"reason,omitempty"`

	// DiagnosticID can be passed to /api/v1/diagnostics/:id.
	DiagnosticID string `json:"diagnostic_id,omitempty"`

	Timing TimingInfo `json:"timing"`

	// Error is populated for transient errors and rejected requests.
	Error *ErrorDetail `json:"error,omitempty"`
}

// TimingInfo breaks down the time spent serving a request.
type TimingInfo struct {
	// TotalMs is the end-to-end duration in milliseconds.
	TotalMs int64 `json:"total_ms"`
}

// HealthResponse is the response for GET /api/v1/health.
type HealthResponse struct {
	Status    string       `json:"status"` // "healthy" or "degraded"
	Uptime    string       `json:"uptime"`
	PoolStats PoolStats    `json:"pool_stats"`
	Probe     *ProbeReport `json:"probe,omitempty"`
	Version   string       `json:"version"`
}

// PoolStats reports the state of the browser session manager.
type PoolStats struct {
	MaxSessions    int    `json:"max_sessions"`
	ActiveSessions int    `json:"active_sessions"`
	EngineRunning  bool   `json:"engine_running"`
	EngineRestarts int64  `json:"engine_restarts"`
	EngineUses     int    `json:"engine_uses"`
	EngineAge      string `json:"engine_age,omitempty"`
}

// ProbeReport is the result of a lightweight reachability check against a
// registry page.
type ProbeReport struct {
	Jurisdiction string `json:"jurisdiction"`
	Reachable    bool   `json:"reachable"`
	StatusCode   int    `json:"status_code,omitempty"`
	Title        string `json:"title,omitempty"`
	Blocked      bool   `json:"blocked"`
	BlockReason  string `json:"block_reason,omitempty"`
	LatencyMs    int64  `json:"latency_ms"`
	Error        string `json:"error,omitempty"`
}
