package eventbrite

import (
	"encoding/json"
	"time"
)

// MultipartText is Eventbrite's text+html pair used for names and descriptions.
type MultipartText struct {
	Text string `json:"text,omitempty"`
	HTML string `json:"html,omitempty"`
}

// DateTime carries both the local wall time and the UTC instant.
type DateTime struct {
	Timezone string `json:"timezone,omitempty"`
	Local    string `json:"local,omitempty"`
	UTC      string `json:"utc,omitempty"`
}

// Event is the subset of an Eventbrite event the agent reads. Raw keeps the
// full payload so tool output can echo the vendor response verbatim.
type Event struct {
	ID          string         `json:"id"`
	Name        *MultipartText `json:"name,omitempty"`
	Description *MultipartText `json:"description,omitempty"`
	URL         string         `json:"url,omitempty"`
	Start       *DateTime      `json:"start,omitempty"`
	End         *DateTime      `json:"end,omitempty"`
	Status      string         `json:"status,omitempty"`
	Currency    string         `json:"currency,omitempty"`
	OnlineEvent bool           `json:"online_event,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// Profile holds attendee contact details.
type Profile struct {
	Name      string `json:"name,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Email     string `json:"email,omitempty"`
}

// Attendee is a single registration on an event.
type Attendee struct {
	ID        string  `json:"id"`
	EventID   string  `json:"event_id,omitempty"`
	OrderID   string  `json:"order_id,omitempty"`
	Status    string  `json:"status,omitempty"`
	CheckedIn bool    `json:"checked_in"`
	Cancelled bool    `json:"cancelled"`
	Refunded  bool    `json:"refunded"`
	Profile   Profile `json:"profile"`
}

// Pagination is the paging envelope Eventbrite attaches to list responses.
type Pagination struct {
	ObjectCount  int    `json:"object_count"`
	PageNumber   int    `json:"page_number"`
	PageSize     int    `json:"page_size"`
	PageCount    int    `json:"page_count"`
	Continuation string `json:"continuation,omitempty"`
	HasMoreItems bool   `json:"has_more_items"`
}

type attendeePage struct {
	Pagination Pagination `json:"pagination"`
	Attendees  []Attendee `json:"attendees"`
}

// EventInput describes a new event.
type EventInput struct {
	Name        string
	Description string
	Timezone    string
	Start       time.Time
	End         time.Time
	Currency    string
	Capacity    int
	Online      bool
	Listed      bool
}

type apiError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}
