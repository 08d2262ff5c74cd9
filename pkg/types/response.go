package types

// Envelope is the uniform body for every synchronous endpoint. Status
// mirrors the HTTP status code of the response.
type Envelope struct {
	Success bool      `json:"success"`
	Error   *APIError `json:"error"`
	Status  int       `json:"status"`
	Data    any       `json:"data"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}
