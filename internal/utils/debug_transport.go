package utils

import (
	"bytes"
	"io"
	"net/http"
	"regexp"
	"strings"

	"pomconv/pkg/logger"
)

const debugBodyLimit = 2000

var sensitiveHeaders = []string{"Authorization", "X-Api-Key", "X-Auth-Token", "Cookie"}

var sensitiveField = regexp.MustCompile(`(?i)("(?:api_key|apikey|password|secret|token)"\s*:\s*)"[^"]*"`)

// DebugTransport logs outgoing POST requests at debug level.
type DebugTransport struct {
	base http.RoundTripper
}

func NewDebugTransport(base http.RoundTripper) *DebugTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &DebugTransport{base: base}
}

func (t *DebugTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method == http.MethodPost {
		t.logRequest(req)
	}
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		logger.Debugf("[backend] %s %s failed: %v", req.Method, req.URL, err)
		return nil, err
	}
	logger.Debugf("[backend] %s %s -> %d", req.Method, req.URL, resp.StatusCode)
	return resp, nil
}

func (t *DebugTransport) logRequest(req *http.Request) {
	var headers []string
	for name, values := range req.Header {
		if isSensitiveHeader(name) {
			headers = append(headers, name+": [REDACTED]")
			continue
		}
		headers = append(headers, name+": "+strings.Join(values, ", "))
	}
	logger.Debugf("[backend] %s %s headers=%v", req.Method, req.URL, headers)

	if req.Body == nil {
		return
	}
	body, err := io.ReadAll(req.Body)
	if err != nil {
		logger.Debugf("[backend] read request body: %v", err)
		return
	}
	// restore the body for the real round trip
	req.Body = io.NopCloser(bytes.NewReader(body))
	logger.Debugf("[backend] body (%d bytes): %s", len(body), RedactBody(string(body), debugBodyLimit))
}

// RedactBody masks credential-looking JSON fields and truncates to limit bytes.
func RedactBody(body string, limit int) string {
	body = sensitiveField.ReplaceAllString(body, `$1"[REDACTED]"`)
	if limit > 0 && len(body) > limit {
		body = body[:limit] + "...(truncated)"
	}
	return body
}

func isSensitiveHeader(name string) bool {
	for _, h := range sensitiveHeaders {
		if strings.EqualFold(name, h) {
			return true
		}
	}
	return false
}
