package api

// AccessGrantResponse is returned when a one-time access link is issued.
// It never carries tool credentials.
type AccessGrantResponse struct {
	AccessToken      string `json:"access_token" yaml:"access_token"`
	AccessURL        string `json:"access_url" yaml:"access_url"`
	ToolName         string `json:"tool_name" yaml:"tool_name"`
	HasAutoLogin     bool   `json:"has_auto_login" yaml:"has_auto_login"`
	LoginURL         string `json:"login_url" yaml:"login_url"`
	ExpiresInSeconds int    `json:"expires_in_seconds" yaml:"expires_in_seconds"`
}

// CleanupResponse reports a manual sweep.
type CleanupResponse struct {
	RemovedCount int    `json:"removed_count" yaml:"removed_count"`
	Message      string `json:"message" yaml:"message"`
}

// HealthResponse is the liveness payload.
type HealthResponse struct {
	Status     string `json:"status" yaml:"status"`
	LiveGrants int    `json:"live_grants" yaml:"live_grants"`
}
