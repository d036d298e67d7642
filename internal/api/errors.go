package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// APIError is returned for any non-2xx backend response
type APIError struct {
	StatusCode int
	Status     string
	Detail     string // backend-supplied message, if any
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("API request failed (%s): %s", e.Status, e.Detail)
	}
	return fmt.Sprintf("API request failed: %s", e.Status)
}

// StatusCode extracts the HTTP status from err, or 0 if err is not an *APIError
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

func newAPIError(code int, status string, body []byte) *APIError {
	if status == "" {
		status = fmt.Sprintf("%d", code)
	}
	return &APIError{
		StatusCode: code,
		Status:     status,
		Detail:     extractDetail(body),
	}
}

// extractDetail pulls a human message out of the usual error envelopes
// ({"detail": "..."}, {"message": "..."}, {"error": "..."}), falling back to
// a trimmed plain-text body.
func extractDetail(body []byte) string {
	if len(body) == 0 {
		return ""
	}

	var envelope map[string]interface{}
	if err := json.Unmarshal(body, &envelope); err == nil {
		for _, key := range []string{"detail", "message", "error"} {
			if s, ok := envelope[key].(string); ok && s != "" {
				return s
			}
		}
		return ""
	}

	text := strings.TrimSpace(string(body))
	if len(text) > 200 {
		text = text[:200] + "..."
	}
	return text
}
