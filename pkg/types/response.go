package types

// SuccessEnvelope wraps every successful API response. Listings fill Items,
// single resources fill Data.
type SuccessEnvelope struct {
	OK    bool `json:"ok"`
	Items any  `json:"items,omitempty"`
	Data  any  `json:"data,omitempty"`
}

type APIError struct {
	Code          string `json:"code"`
	Message       string `json:"message"`
	RetryAfterSec *int   `json:"retry_after_sec,omitempty"`
	Details       any    `json:"details,omitempty"`
}

// ErrorEnvelope keeps the flat "error" string for older dashboards next to the
// structured error_v1 object.
type ErrorEnvelope struct {
	OK      bool     `json:"ok"`
	Error   string   `json:"error"`
	ErrorV1 APIError `json:"error_v1"`
}
