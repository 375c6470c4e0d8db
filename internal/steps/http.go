package steps

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// StepTypeHTTP — тип HTTP шага.
	StepTypeHTTP = "http"

	defaultHTTPTimeout = 30 * time.Second
	maxResponseBody    = 10 << 20
	maxErrorBody       = 512
)

// HTTPStep выполняет HTTP запрос.
//
// Конфигурация:
//
//	{
//	    "method": "POST",                       // default: GET
//	    "url": "https://api.example.com/items",
//	    "query": {"page": "{{ .Inputs.page }}"},
//	    "headers": {"Authorization": "Bearer {{ .Env.API_TOKEN }}"},
//	    "body": {"ids": [1, 2]},                // строка уходит как есть, остальное — JSON
//	    "timeout": "10s",                       // default: 30s
//	    "follow_redirects": true,
//	    "validate_ssl": true,
//	    "raise_for_status": true
//	}
//
// При raise_for_status (default) статус >= 400 возвращает *HTTPError,
// и task run завершается FAILED с повторами по политике задачи.
//
// Outputs:
//
//	{"status_code": 200, "headers": {...}, "body": {...}, "elapsed_ms": 12}
type HTTPStep struct {
	secure   http.RoundTripper
	insecure http.RoundTripper
}

// NewHTTPStep создаёт HTTPStep. Транспорты создаются один раз и
// переиспользуются всеми task runs.
func NewHTTPStep() *HTTPStep {
	base := http.DefaultTransport.(*http.Transport)

	insecure := base.Clone()
	insecure.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // validate_ssl: false

	return &HTTPStep{secure: base.Clone(), insecure: insecure}
}

func (s *HTTPStep) Type() string { return StepTypeHTTP }

// httpCall — разобранная конфигурация запроса.
type httpCall struct {
	method          string
	url             string
	headers         map[string]string
	body            any
	timeout         time.Duration
	followRedirects bool
	validateSSL     bool
	raiseForStatus  bool
}

// Execute выполняет запрос.
func (s *HTTPStep) Execute(ctx context.Context, req *Request) (Outputs, error) {
	call, err := parseHTTPCall(req.Config)
	if err != nil {
		return nil, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, call.timeout)
	defer cancel()

	httpReq, err := call.request(reqCtx)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	req.Logger.Debug("http step request", "method", call.method, "url", call.url)

	start := time.Now()
	resp, err := s.client(call).Do(httpReq)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return nil, fmt.Errorf("%w: %v", ErrStepCancelled, ctx.Err())
		case errors.Is(reqCtx.Err(), context.DeadlineExceeded):
			return nil, fmt.Errorf("%w: %s %s after %s", ErrStepTimeout, call.method, call.url, call.timeout)
		}
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody+1))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if len(raw) > maxResponseBody {
		return nil, fmt.Errorf("response body exceeds %d bytes", maxResponseBody)
	}
	elapsed := time.Since(start)

	req.Logger.Debug("http step response", "status", resp.StatusCode, "elapsed", elapsed)

	if call.raiseForStatus && resp.StatusCode >= http.StatusBadRequest {
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       truncate(strings.TrimSpace(string(raw)), maxErrorBody),
		}
	}

	headers := make(map[string]string, len(resp.Header))
	for key := range resp.Header {
		headers[key] = resp.Header.Get(key)
	}

	return Outputs{
		"status_code": resp.StatusCode,
		"headers":     headers,
		"body":        decodeBody(resp.Header.Get("Content-Type"), raw),
		"elapsed_ms":  elapsed.Milliseconds(),
	}, nil
}

func parseHTTPCall(cfg Config) (*httpCall, error) {
	rawURL := cfg.String("url")
	if rawURL == "" {
		return nil, invalidConfig(StepTypeHTTP, "url is required")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, invalidConfig(StepTypeHTTP, "url: %v", err)
	}
	if query := cfg.StringMap("query"); len(query) > 0 {
		q := u.Query()
		for k, v := range query {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}

	timeout, err := cfg.Duration("timeout")
	if err != nil {
		return nil, invalidConfig(StepTypeHTTP, "%v", err)
	}
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}

	method := strings.ToUpper(cfg.String("method"))
	if method == "" {
		method = http.MethodGet
	}

	headers := cfg.StringMap("headers")
	if headers == nil {
		headers = make(map[string]string)
	}

	return &httpCall{
		method:          method,
		url:             u.String(),
		headers:         headers,
		body:            cfg["body"],
		timeout:         timeout,
		followRedirects: cfg.Bool("follow_redirects", true),
		validateSSL:     cfg.Bool("validate_ssl", true),
		raiseForStatus:  cfg.Bool("raise_for_status", true),
	}, nil
}

func (c *httpCall) request(ctx context.Context) (*http.Request, error) {
	var body io.Reader
	if c.body != nil {
		var data []byte
		switch v := c.body.(type) {
		case string:
			data = []byte(v)
		case []byte:
			data = v
		default:
			b, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("encode body: %w", err)
			}
			data = b
			if _, ok := c.headers["Content-Type"]; !ok {
				c.headers["Content-Type"] = "application/json"
			}
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, c.method, c.url, body)
	if err != nil {
		return nil, err
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

func (s *HTTPStep) client(c *httpCall) *http.Client {
	client := &http.Client{Transport: s.secure}
	if !c.validateSSL {
		client.Transport = s.insecure
	}
	if !c.followRedirects {
		client.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
	return client
}

// decodeBody разбирает JSON ответы (application/json, application/*+json);
// остальное возвращается строкой.
func decodeBody(contentType string, raw []byte) any {
	if strings.Contains(contentType, "json") && len(raw) > 0 {
		var v any
		if err := json.Unmarshal(raw, &v); err == nil {
			return v
		}
	}
	return string(raw)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
