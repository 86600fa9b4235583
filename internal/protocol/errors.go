package protocol

import "fmt"

const (
	// Transport validation.
	ErrBadRequest = "E_BAD_REQUEST"

	// Store boundary.
	ErrInvalidRecord        = "E_INVALID_RECORD"
	ErrIndexOutOfRange      = "E_INDEX_OUT_OF_RANGE"
	ErrTransportUnavailable = "E_TRANSPORT_UNAVAILABLE"

	// Hosted car.
	ErrCarBusy = "E_CAR_BUSY"

	ErrInternal = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrBadRequest:           {},
	ErrInvalidRecord:        {},
	ErrIndexOutOfRange:      {},
	ErrTransportUnavailable: {},
	ErrCarBusy:              {},
	ErrInternal:             {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

// ErrorResponse is the JSON body of every non-2xx API response.
type ErrorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

// Error is a decoded ErrorResponse carried as a Go error.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s (status %d)", e.Code, e.Status)
	}
	return fmt.Sprintf("%s (status %d): %s", e.Code, e.Status, e.Message)
}
