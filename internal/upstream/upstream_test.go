package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	xerrors "EventSync-Agent/internal/errors"
)

func TestDoSendsHeadersQueryAndBody(t *testing.T) {
	var gotPath, gotQuery, gotKey, gotContentType string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotKey = r.Header.Get("X-API-Key")
		gotContentType = r.Header.Get("Content-Type")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	d, err := New(Config{
		Service:    "test",
		BaseURL:    srv.URL + "/v3/",
		HTTPClient: srv.Client(),
		Header:     http.Header{"X-Api-Key": []string{"k"}},
	})
	require.NoError(t, err)

	resp, err := d.Do(context.Background(), Request{
		Operation: "op",
		Method:    http.MethodPost,
		Path:      "/things/1/",
		Query:     url.Values{"a": []string{"b"}},
		Body:      map[string]string{"x": "y"},
	})
	require.NoError(t, err)
	require.True(t, resp.OK())
	require.Equal(t, "/v3/things/1/", gotPath)
	require.Equal(t, "a=b", gotQuery)
	require.Equal(t, "k", gotKey)
	require.Equal(t, "application/json", gotContentType)
	require.Equal(t, "y", gotBody["x"])
}

func TestErrClassifiesStatus(t *testing.T) {
	d, err := New(Config{Service: "poap", BaseURL: "http://example.invalid"})
	require.NoError(t, err)

	cases := map[int]xerrors.Code{
		401: xerrors.CodeUpstreamUnauthorized,
		404: xerrors.CodeNotFound,
		429: xerrors.CodeUpstreamRateLimited,
		400: xerrors.CodeUpstreamRejected,
		503: xerrors.CodeUpstreamFailure,
	}
	for status, want := range cases {
		err := d.Err(&Response{StatusCode: status, Body: []byte(`{"message":"nope"}`)}, "")
		require.Equal(t, want, xerrors.CodeOf(err), "status %d", status)
		se, ok := AsStatusError(err)
		require.True(t, ok)
		require.Equal(t, status, se.StatusCode)
		require.Equal(t, `{"message":"nope"}`, se.Detail)
	}
	require.True(t, xerrors.RetryableError(d.Err(&Response{StatusCode: 502}, "bad gateway")))
	require.False(t, xerrors.RetryableError(d.Err(&Response{StatusCode: 400}, "bad request")))
}

func TestDoTransportFailureIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	base := srv.URL
	srv.Close()

	d, err := New(Config{Service: "eventbrite", BaseURL: base, Timeout: time.Second})
	require.NoError(t, err)

	_, err = d.Do(context.Background(), Request{Operation: "get"})
	require.Error(t, err)
	require.True(t, xerrors.RetryableError(err))
}

func TestRateLimiterHonoursContext(t *testing.T) {
	d, err := New(Config{Service: "x", BaseURL: "http://example.invalid", RatePerSecond: 0.001, Burst: 1})
	require.NoError(t, err)
	// consume the only token
	require.True(t, d.limiter.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = d.Do(ctx, Request{Operation: "get"})
	require.Equal(t, xerrors.CodeTimeout, xerrors.CodeOf(err))
}
