package api

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
	// Connector names the offending connector of a rejected routing table.
	Connector string `json:"connector,omitempty"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Billing       bool   `json:"billing"`
	Routing       bool   `json:"routing"`
}

// LoadCreditsRequest is the JSON body for POST /accounts/{number}/credits.
type LoadCreditsRequest struct {
	Credits int64 `json:"credits"`
}

// SaveRoutingResponse is returned by PUT /routing/{account}.
type SaveRoutingResponse struct {
	AccountKey string `json:"account_key"`
	Revision   int64  `json:"revision"`
	Entries    int    `json:"entries"`
}
