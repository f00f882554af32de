package handlers

// Response wrapper types for Swagger documentation

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error" example:"Not found"`
	Details string `json:"details,omitempty" example:"/missing"`
}

// HealthResponse is the liveness report
type HealthResponse struct {
	Status               string `json:"status" example:"ok"`
	UptimeSeconds        int64  `json:"uptimeSeconds" example:"3600"`
	WebsocketConnections int    `json:"websocketConnections" example:"4"`
}

// ReadyResponse is the readiness report
type ReadyResponse struct {
	Status       string `json:"status" example:"ready"`
	ShuttingDown bool   `json:"shuttingDown" example:"false"`
}
