package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
)

// messageFields are consulted in order; the first non-empty string wins.
var messageFields = [...]string{"detail", "error", "message"}

// ClassifyResponse turns a response into an *APIError.
//
// statusLine is the textual status ("404 Not Found"); when empty it is derived
// from status. A 2xx response with an empty or well-formed JSON body is not an
// error and yields nil. A 2xx response with a malformed body yields a
// KindMalformed error; every non-2xx response yields a KindHTTP error.
func ClassifyResponse(status int, statusLine string, body []byte) *APIError {
	success := status >= 200 && status < 300
	trimmed := bytes.TrimSpace(body)

	if len(trimmed) == 0 {
		if success {
			return nil
		}
		return &APIError{Message: synthesizedMessage(status), Status: status, Kind: KindHTTP}
	}

	var payload any
	if err := json.Unmarshal(trimmed, &payload); err != nil {
		kind := KindHTTP
		if success {
			kind = KindMalformed
		}
		return &APIError{
			Message: "Request failed: " + normalizeStatusLine(status, statusLine),
			Data:    map[string]any{"text": string(body)},
			Status:  status,
			Kind:    kind,
		}
	}
	if success {
		return nil
	}

	return &APIError{
		Message: messageFrom(payload, status),
		Data:    payload,
		Status:  status,
		Kind:    KindHTTP,
	}
}

// ClassifyTransportError wraps a failure that produced no response.
func ClassifyTransportError(err error) *APIError {
	msg := "Network error"
	if err != nil {
		msg = "Network error: " + err.Error()
	}
	return &APIError{
		Message: msg,
		Data:    map[string]any{"networkError": true},
		Status:  0,
		Kind:    KindNetwork,
		Err:     err,
	}
}

func messageFrom(payload any, status int) string {
	if obj, ok := payload.(map[string]any); ok {
		for _, field := range messageFields {
			if s, ok := obj[field].(string); ok && s != "" {
				return s
			}
		}
	}
	return synthesizedMessage(status)
}

func synthesizedMessage(status int) string {
	return "Request failed with status " + strconv.Itoa(status)
}

func normalizeStatusLine(status int, statusLine string) string {
	if statusLine != "" {
		return statusLine
	}
	if text := http.StatusText(status); text != "" {
		return fmt.Sprintf("%d %s", status, text)
	}
	return strconv.Itoa(status)
}

// isCallerCancel reports whether err came from the caller's own context
// rather than from the network.
func isCallerCancel(ctx context.Context, err error) bool {
	if ctx.Err() == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
