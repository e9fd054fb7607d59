// Package httputil holds bounded readers for responses from price endpoints
// and RPC nodes.
package httputil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Body size limits.
const (
	MaxErrorBody    = 64 << 10
	MaxResponseBody = 8 << 20
)

// ReadAllWithLimit reads at most limit bytes and reports whether r held more.
func ReadAllWithLimit(r io.Reader, limit int64) ([]byte, bool, error) {
	if limit <= 0 {
		return nil, false, fmt.Errorf("limit must be positive")
	}
	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(body)) > limit {
		return body[:limit], true, nil
	}
	return body, false, nil
}

// ReadAllStrict reads r fully, failing if it holds more than limit bytes.
func ReadAllStrict(r io.Reader, limit int64) ([]byte, error) {
	body, truncated, err := ReadAllWithLimit(r, limit)
	if err != nil {
		return nil, err
	}
	if truncated {
		return nil, fmt.Errorf("response body exceeds %d bytes", limit)
	}
	return body, nil
}

// ReadBody returns a 2xx response body of at most limit bytes. Other
// statuses become errors carrying a truncated copy of the body. The body is
// closed either way.
func ReadBody(resp *http.Response, limit int64) ([]byte, error) {
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, truncated, err := ReadAllWithLimit(resp.Body, MaxErrorBody)
		if err != nil {
			return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
		msg := strings.TrimSpace(string(body))
		if truncated {
			msg += "...(truncated)"
		}
		if msg == "" {
			return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, msg)
	}
	return ReadAllStrict(resp.Body, limit)
}

// DecodeResponse decodes a JSON response into target.
func DecodeResponse(resp *http.Response, target interface{}) error {
	body, err := ReadBody(resp, MaxResponseBody)
	if err != nil {
		return err
	}
	if target == nil {
		return nil
	}
	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
