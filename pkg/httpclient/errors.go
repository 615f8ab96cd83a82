package httpclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const maxErrorBody = 1 << 20

// StatusError is a non-2xx response from a downstream HTTP API.
type StatusError struct {
	Service    string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Service, e.StatusCode, e.Message)
}

// downstreamError matches error bodies of the form {"error":{"message":"..."}},
// optionally with a code.
type downstreamError struct {
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// ParseResponseError consumes and closes resp.Body and returns a StatusError
// carrying the downstream message. Only call it for non-2xx responses.
func ParseResponseError(resp *http.Response, service string) *StatusError {
	defer func() { _ = resp.Body.Close() }()

	se := &StatusError{Service: service, StatusCode: resp.StatusCode}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		se.Message = fmt.Sprintf("failed to read body: %v", err)
		return se
	}

	var downstream downstreamError
	if json.Unmarshal(body, &downstream) == nil && downstream.Error != nil {
		se.Message = downstream.Error.Message
		if downstream.Error.Code != "" {
			se.Message = downstream.Error.Code + ": " + se.Message
		}
		return se
	}

	se.Message = strings.TrimSpace(string(body))
	if se.Message == "" {
		se.Message = http.StatusText(resp.StatusCode)
	}
	return se
}

// IsClientError reports whether status is a 4xx code.
func IsClientError(status int) bool {
	return status >= 400 && status < 500
}

// IsAuthError reports whether status signals rejected credentials.
func IsAuthError(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}
