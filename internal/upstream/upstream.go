// Package upstream is the single outbound path to the vendor REST APIs the
// agent's tools wrap. It rate limits, measures and classifies every call; it
// never retries.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	xerrors "EventSync-Agent/internal/errors"
	"EventSync-Agent/internal/observability/metrics"
)

const (
	defaultTimeout = 30 * time.Second
	maxBodyBytes   = 4 << 20
)

// Config describes one vendor endpoint.
type Config struct {
	Service       string
	BaseURL       string
	RatePerSecond float64
	Burst         int
	Timeout       time.Duration
	HTTPClient    *http.Client
	// Header is sent on every request, typically credentials.
	Header http.Header
}

// Doer issues requests against a vendor base URL.
type Doer struct {
	service string
	baseURL string
	header  http.Header
	client  *http.Client
	limiter *rate.Limiter
}

// New builds a Doer. A non-positive RatePerSecond disables limiting.
func New(cfg Config) (*Doer, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("%s: base url is required", cfg.Service)
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("%s: invalid base url: %w", cfg.Service, err)
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return &Doer{
		service: cfg.Service,
		baseURL: base,
		header:  cfg.Header.Clone(),
		client:  client,
		limiter: limiter,
	}, nil
}

// Request is a single outbound call. Body, when set, is JSON encoded.
type Request struct {
	Operation string
	Method    string
	Path      string
	Query     url.Values
	Body      any
}

// Response carries the raw vendor reply regardless of status.
type Response struct {
	StatusCode int
	Body       []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// Decode unmarshals the body into v.
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "decode upstream response", xerrors.WithRetryable(false))
	}
	return nil
}

// Do sends the request. Transport failures are returned as coded retryable
// errors; any HTTP status is returned as a Response for the caller to judge.
func (d *Doer) Do(ctx context.Context, req Request) (*Response, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeTimeout, err, d.service+": waiting for rate limiter")
	}

	target := d.baseURL + "/" + strings.TrimLeft(req.Path, "/")
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		encoded, err := json.Marshal(req.Body)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encode request body")
		}
		body = bytes.NewReader(encoded)
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "build request")
	}
	for key, values := range d.header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	started := time.Now()
	resp, err := d.client.Do(httpReq)
	if err != nil {
		metrics.ObserveUpstream(d.service, req.Operation, 0, time.Since(started))
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, xerrors.Wrap(xerrors.CodeTimeout, err, d.service+" request timed out")
		}
		return nil, xerrors.Wrap(xerrors.CodeUpstreamFailure, err, d.service+" request failed")
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	metrics.ObserveUpstream(d.service, req.Operation, resp.StatusCode, time.Since(started))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUpstreamFailure, err, d.service+" response read failed")
	}
	return &Response{StatusCode: resp.StatusCode, Body: payload}, nil
}

// StatusError is a non-2xx vendor reply.
type StatusError struct {
	Service    string
	StatusCode int
	// Detail is the vendor's error text, or the raw body when it has none.
	Detail string
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Service, e.StatusCode, e.Detail)
}

// Err converts a non-2xx response into a coded error wrapping *StatusError.
func (d *Doer) Err(resp *Response, detail string) error {
	body := strings.TrimSpace(string(resp.Body))
	if strings.TrimSpace(detail) == "" {
		detail = body
	}
	cause := &StatusError{Service: d.service, StatusCode: resp.StatusCode, Detail: detail, Body: body}
	return xerrors.Wrap(ClassifyStatus(resp.StatusCode), cause, d.service+" call rejected")
}

// ClassifyStatus maps an HTTP status to an error code.
func ClassifyStatus(status int) xerrors.Code {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return xerrors.CodeUpstreamUnauthorized
	case status == http.StatusNotFound:
		return xerrors.CodeNotFound
	case status == http.StatusTooManyRequests:
		return xerrors.CodeUpstreamRateLimited
	case status >= 500:
		return xerrors.CodeUpstreamFailure
	default:
		return xerrors.CodeUpstreamRejected
	}
}

// AsStatusError extracts the vendor status error from err's chain.
func AsStatusError(err error) (*StatusError, bool) {
	var target *StatusError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}
