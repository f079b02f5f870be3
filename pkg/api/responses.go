package api

// Health status values reported by /health.
const (
	healthStatusHealthy   = "healthy"
	healthStatusUnhealthy = "unhealthy"
)

// HealthCheck is one named probe inside the health response.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string                 `json:"status"`
	Version string                 `json:"version"`
	Checks  map[string]HealthCheck `json:"checks"`
}

// ProtocolDocument is the discovery body served at
// /.well-known/openintent.json.
type ProtocolDocument struct {
	Protocol     string   `json:"protocol"`
	Version      string   `json:"version"`
	RFCURLs      []string `json:"rfcUrls"`
	Capabilities []string `json:"capabilities"`
	OpenAPIURL   string   `json:"openApiUrl"`
}

// CompatDocument reports per-RFC conformance at
// /.well-known/openintent-compat.json.
type CompatDocument struct {
	Protocol string          `json:"protocol"`
	Version  string          `json:"version"`
	RFCs     map[string]bool `json:"rfcs"`
}
