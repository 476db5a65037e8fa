package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	xerrors "EventSync-Agent/internal/errors"
)

type recordingNotifier struct {
	channel Channel
	events  []Event
	err     error
}

func (r *recordingNotifier) Channel() Channel { return r.channel }

func (r *recordingNotifier) Notify(_ context.Context, event Event) error {
	r.events = append(r.events, event)
	return r.err
}

func TestFanoutDeliversToEveryChannel(t *testing.T) {
	logN := &recordingNotifier{channel: ChannelLog}
	hookN := &recordingNotifier{channel: ChannelWebhook, err: errors.New("down")}
	d := NewFanout(logN, nil, hookN)

	err := d.Notify(context.Background(), Event{Code: "X", TaskID: "t1"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "channel webhook")
	require.Len(t, logN.events, 1)
	require.Len(t, hookN.events, 1)
}

func TestNilFanoutIsNoop(t *testing.T) {
	var d *FanoutDispatcher
	require.NoError(t, d.Notify(context.Background(), Event{}))
}

func TestWebhookNotifierPostsJSON(t *testing.T) {
	var got Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := &WebhookNotifier{URL: srv.URL}
	event := Event{
		Code:       xerrors.CodeUpstreamFailure,
		Severity:   xerrors.SeverityWarning,
		TaskID:     "t1",
		Tool:       "mint_poap",
		Attempts:   2,
		MaxRetries: 3,
		OccurredAt: time.Unix(1700000000, 0).UTC(),
	}
	require.NoError(t, n.Notify(context.Background(), event))
	require.Equal(t, "t1", got.TaskID)
	require.Equal(t, "mint_poap", got.Tool)
	require.Equal(t, xerrors.CodeUpstreamFailure, got.Code)
}

func TestWebhookNotifierReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := (&WebhookNotifier{URL: srv.URL}).Notify(context.Background(), Event{TaskID: "t"})
	require.ErrorContains(t, err, "502")
}

func TestUnconfiguredWebhookSkips(t *testing.T) {
	require.NoError(t, (&WebhookNotifier{}).Notify(context.Background(), Event{}))
	require.NoError(t, (&LogNotifier{}).Notify(context.Background(), Event{Severity: xerrors.SeverityCritical}))
}
