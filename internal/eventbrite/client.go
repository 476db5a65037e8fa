// Package eventbrite wraps the parts of the Eventbrite v3 REST API the agent
// uses: reading events, listing attendees and creating events.
package eventbrite

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	xerrors "EventSync-Agent/internal/errors"
	"EventSync-Agent/internal/upstream"
)

// DefaultBaseURL is the public Eventbrite v3 endpoint.
const DefaultBaseURL = "https://www.eventbriteapi.com/v3"

const (
	serviceName     = "eventbrite"
	defaultMaxPages = 50
	utcLayout       = "2006-01-02T15:04:05Z"
	unknownError    = "Unknown error"
)

// Options configure a Client.
type Options struct {
	BaseURL       string
	Token         string
	RatePerSecond float64
	Timeout       time.Duration
	HTTPClient    *http.Client
	// MaxPages bounds attendee pagination.
	MaxPages int
}

// Client talks to the Eventbrite API with a private token.
type Client struct {
	doer     *upstream.Doer
	maxPages int
}

// NewClient builds a Client. The token may be empty; calls then fail with the
// vendor's 401 which the tools surface to the user.
func NewClient(opts Options) (*Client, error) {
	base := opts.BaseURL
	if strings.TrimSpace(base) == "" {
		base = DefaultBaseURL
	}
	header := http.Header{}
	if opts.Token != "" {
		header.Set("Authorization", "Bearer "+opts.Token)
	}
	doer, err := upstream.New(upstream.Config{
		Service:       serviceName,
		BaseURL:       base,
		RatePerSecond: opts.RatePerSecond,
		Burst:         1,
		Timeout:       opts.Timeout,
		HTTPClient:    opts.HTTPClient,
		Header:        header,
	})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "init eventbrite client")
	}
	maxPages := opts.MaxPages
	if maxPages <= 0 {
		maxPages = defaultMaxPages
	}
	return &Client{doer: doer, maxPages: maxPages}, nil
}

// GetEvent fetches a single event by id.
func (c *Client) GetEvent(ctx context.Context, eventID string) (*Event, error) {
	if err := requireID("event_id", eventID); err != nil {
		return nil, err
	}
	resp, err := c.doer.Do(ctx, upstream.Request{
		Operation: "get_event",
		Method:    http.MethodGet,
		Path:      "/events/" + url.PathEscape(eventID) + "/",
	})
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, c.statusErr(resp)
	}
	var event Event
	if err := resp.Decode(&event); err != nil {
		return nil, err
	}
	event.Raw = json.RawMessage(resp.Body)
	return &event, nil
}

// ListAttendees returns every attendee of the event, following continuation
// tokens until Eventbrite reports no more items or MaxPages is reached.
func (c *Client) ListAttendees(ctx context.Context, eventID string) ([]Attendee, error) {
	if err := requireID("event_id", eventID); err != nil {
		return nil, err
	}
	var (
		all          []Attendee
		continuation string
	)
	for page := 0; page < c.maxPages; page++ {
		query := url.Values{}
		if continuation != "" {
			query.Set("continuation", continuation)
		}
		resp, err := c.doer.Do(ctx, upstream.Request{
			Operation: "list_attendees",
			Method:    http.MethodGet,
			Path:      "/events/" + url.PathEscape(eventID) + "/attendees/",
			Query:     query,
		})
		if err != nil {
			return all, err
		}
		if !resp.OK() {
			return all, c.statusErr(resp)
		}
		var body attendeePage
		if err := resp.Decode(&body); err != nil {
			return all, err
		}
		all = append(all, body.Attendees...)
		if !body.Pagination.HasMoreItems || body.Pagination.Continuation == "" {
			return all, nil
		}
		continuation = body.Pagination.Continuation
	}
	return all, nil
}

// CreateEvent creates a draft event under the organization.
func (c *Client) CreateEvent(ctx context.Context, organizationID string, in EventInput) (*Event, error) {
	if err := requireID("organization_id", organizationID); err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}
	resp, err := c.doer.Do(ctx, upstream.Request{
		Operation: "create_event",
		Method:    http.MethodPost,
		Path:      "/organizations/" + url.PathEscape(organizationID) + "/events/",
		Body:      map[string]any{"event": in.payload()},
	})
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, c.statusErr(resp)
	}
	var event Event
	if err := resp.Decode(&event); err != nil {
		return nil, err
	}
	event.Raw = json.RawMessage(resp.Body)
	return &event, nil
}

// statusErr extracts error_description from the body, falling back to the
// same "Unknown error" text users saw before.
func (c *Client) statusErr(resp *upstream.Response) error {
	var body apiError
	detail := unknownError
	if err := json.Unmarshal(resp.Body, &body); err == nil && body.ErrorDescription != "" {
		detail = body.ErrorDescription
	}
	return c.doer.Err(resp, detail)
}

func (in EventInput) validate() error {
	switch {
	case strings.TrimSpace(in.Name) == "":
		return xerrors.New(xerrors.CodeInvalidArgument, "event name is required")
	case in.Start.IsZero() || in.End.IsZero():
		return xerrors.New(xerrors.CodeInvalidArgument, "event start and end are required")
	case !in.End.After(in.Start):
		return xerrors.New(xerrors.CodeInvalidArgument, "event end must be after start")
	case in.Capacity < 0:
		return xerrors.New(xerrors.CodeInvalidArgument, "event capacity cannot be negative")
	}
	return nil
}

func (in EventInput) payload() map[string]any {
	tz := in.Timezone
	if tz == "" {
		tz = "UTC"
	}
	currency := in.Currency
	if currency == "" {
		currency = "USD"
	}
	event := map[string]any{
		"name":         map[string]string{"html": in.Name},
		"start":        map[string]string{"timezone": tz, "utc": in.Start.UTC().Format(utcLayout)},
		"end":          map[string]string{"timezone": tz, "utc": in.End.UTC().Format(utcLayout)},
		"currency":     currency,
		"online_event": in.Online,
		"listed":       in.Listed,
	}
	if in.Description != "" {
		event["description"] = map[string]string{"html": in.Description}
	}
	if in.Capacity > 0 {
		event["capacity"] = in.Capacity
	}
	return event
}

func requireID(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("%s is required", field))
	}
	return nil
}
