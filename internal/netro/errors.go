package netro

import (
	"errors"
	"fmt"
	"net/http"
)

// NPA application error codes.
const (
	ErrCodeInvalidKey     = 1
	ErrCodeExceedLimit    = 3
	ErrCodeInvalidDevice  = 4
	ErrCodeInternalError  = 5
	ErrCodeParameterError = 6
)

// Error is an application-level error returned by the NPA in an otherwise
// successful HTTP exchange (status == "ERROR").
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("netro: %s (code %d)", e.Message, e.Code)
}

// IsQuotaExhausted reports whether the device's daily call budget is spent.
func (e *Error) IsQuotaExhausted() bool {
	return e.Code == ErrCodeExceedLimit
}

// HTTPError is a non-2xx HTTP response without a parseable NPA error.
type HTTPError struct {
	StatusCode int
	Status     string
}

func (e *HTTPError) Error() string {
	return "netro: " + e.Status
}

// IsTransient reports whether err is worth retrying on the next scheduled
// poll: network failures, server errors and an exhausted quota all resolve
// on their own. Rejections (bad key, unknown device, parameter errors) do
// not and are surfaced to the caller instead.
func IsTransient(err error) bool {
	var netroErr *Error
	if errors.As(err, &netroErr) {
		return netroErr.Code == ErrCodeInternalError || netroErr.IsQuotaExhausted()
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= http.StatusInternalServerError
	}
	// transport-level failure
	return true
}

// IsRejection reports whether the remote service refused the request
// outright. Commands failing this way must not be retried.
func IsRejection(err error) bool {
	return err != nil && !IsTransient(err)
}
