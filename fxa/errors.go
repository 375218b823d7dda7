package fxa

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-resty/resty/v2"
)

// Auth server errno values the client acts on.
const (
	ErrnoAccountDoesNotExist = 102
	ErrnoIncorrectPassword   = 103
	ErrnoUnverifiedAccount   = 104
	ErrnoInvalidToken        = 110
	ErrnoInvalidTimestamp    = 111
	ErrnoServiceUnavailable  = 201
)

// ErrUnauthorized matches any APIError with status 401.
var ErrUnauthorized = errors.New("fxa: unauthorized")

// APIError is an error response from the auth server.
type APIError struct {
	Status     int    `json:"-"`
	Code       int    `json:"code"`
	Errno      int    `json:"errno"`
	ErrorText  string `json:"error"`
	Message    string `json:"message"`
	ServerTime int64  `json:"serverTime,omitempty"`
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.ErrorText
	}
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	return fmt.Sprintf("fxa: %s (status %d, errno %d)", msg, e.Status, e.Errno)
}

func (e *APIError) Is(target error) bool {
	return target == ErrUnauthorized && e.Status == http.StatusUnauthorized
}

// Temporary reports whether retrying the request later may succeed.
func (e *APIError) Temporary() bool {
	return e.Status >= 500 || e.Status == http.StatusTooManyRequests || e.Errno == ErrnoServiceUnavailable
}

func mapHTTPError(resp *resty.Response) error {
	if resp.IsSuccess() {
		return nil
	}

	apiErr := &APIError{}
	if err := json.Unmarshal(resp.Body(), apiErr); err != nil {
		apiErr = &APIError{Message: string(resp.Body())}
	}
	apiErr.Status = resp.StatusCode()
	if apiErr.Code == 0 {
		apiErr.Code = apiErr.Status
	}
	return apiErr
}
