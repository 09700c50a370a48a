package qianfan

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"qianfan-chat/internal/domain"
)

// maxResponseBody is the maximum response body size we read from the API.
const maxResponseBody = 10 * 1024 * 1024 // 10 MB

// doJSONRequest performs a JSON POST request and returns the response body.
// Network failures and non-200 statuses come back as *domain.TransportError.
func doJSONRequest(ctx context.Context, client *http.Client, url string, body []byte, headers map[string]string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := client.Do(httpReq)
	if err != nil {
		return nil, networkError(ctx, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBody))
	if err != nil {
		return nil, networkError(ctx, fmt.Errorf("read response: %w", err))
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, mapHTTPError(httpResp.StatusCode, respBody)
	}

	return respBody, nil
}

// doStreamRequest performs a JSON POST request for SSE streaming.
// It returns the open *http.Response (caller must close Body).
func doStreamRequest(ctx context.Context, client *http.Client, url string, body []byte, headers map[string]string) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := client.Do(httpReq)
	if err != nil {
		return nil, networkError(ctx, err)
	}

	if httpResp.StatusCode != http.StatusOK {
		defer httpResp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		return nil, mapHTTPError(httpResp.StatusCode, respBody)
	}

	return httpResp, nil
}

// networkError wraps a failure that happened before a status was received.
// A cancelled caller context is reported as the context error so it is never retried.
func networkError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return &domain.TransportError{Op: "qianfan.http", Cause: ctxErr, Message: err.Error()}
	}
	return &domain.TransportError{Op: "qianfan.http", Cause: err}
}

// mapHTTPError maps an HTTP status code + response body to a transport error
// whose cause is the matching domain sentinel.
func mapHTTPError(statusCode int, body []byte) error {
	detail := apiErrorMessage(body)

	var cause error
	switch {
	case statusCode == http.StatusTooManyRequests: // 429
		cause = domain.ErrRateLimit
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden: // 401, 403
		cause = domain.ErrAuthInvalid
	case statusCode >= 500: // 500, 502, 503, etc.
		cause = domain.ErrServerError
	default:
		cause = domain.ErrBadRequest
	}
	return domain.NewTransportError("qianfan.http", statusCode, cause, detail)
}

// apiErrorMessage extracts a readable message from an error body. Both the
// OpenAI-style {"error":{...}} and the legacy {"error_code","error_msg"}
// shapes are recognised; anything else is returned as trimmed text.
func apiErrorMessage(body []byte) string {
	var payload struct {
		Error *struct {
			Code    any    `json:"code"`
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
		ErrorCode flexCode `json:"error_code"`
		ErrorMsg  string   `json:"error_msg"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		switch {
		case payload.Error != nil && payload.Error.Message != "":
			if payload.Error.Code != nil {
				return fmt.Sprintf("%v: %s", payload.Error.Code, payload.Error.Message)
			}
			return payload.Error.Message
		case payload.ErrorMsg != "":
			return fmt.Sprintf("%s: %s", payload.ErrorCode, payload.ErrorMsg)
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 512 {
		msg = msg[:512] + "..."
	}
	return msg
}

// providerError reports an error carried in a 200 response body.
func providerError(op string, code flexCode, msg string) error {
	return domain.NewTransportError(op, http.StatusOK, domain.ErrProviderError, fmt.Sprintf("%s: %s", code, msg))
}
