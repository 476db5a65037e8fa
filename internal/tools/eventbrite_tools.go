package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	xerrors "EventSync-Agent/internal/errors"
	"EventSync-Agent/internal/eventbrite"
)

// EventService is the Eventbrite surface the tools call.
type EventService interface {
	GetEvent(ctx context.Context, eventID string) (*eventbrite.Event, error)
	ListAttendees(ctx context.Context, eventID string) ([]eventbrite.Attendee, error)
	CreateEvent(ctx context.Context, organizationID string, in eventbrite.EventInput) (*eventbrite.Event, error)
}

type eventIDArgs struct {
	EventID string `json:"event_id"`
}

var eventIDSchema = Object(map[string]Property{
	"event_id": {Type: "string", Description: "The ID of the Eventbrite event. Example: '12345'.", Example: "12345"},
}, "event_id")

// RetrieveEvent reports an event's name, description, URL and local times.
func RetrieveEvent(events EventService) Tool {
	return New("retrieve_event", retrieveEventPrompt, eventIDSchema,
		func(ctx context.Context, args eventIDArgs) (string, error) {
			event, err := events.GetEvent(ctx, args.EventID)
			if err != nil {
				return failure("retrieve event", err, false)
			}
			return FormatEvent(event), nil
		})
}

// FormatEvent renders the event details block.
func FormatEvent(e *eventbrite.Event) string {
	name, description := "No name available", "No description available"
	if e.Name != nil && e.Name.Text != "" {
		name = e.Name.Text
	}
	if e.Description != nil && e.Description.Text != "" {
		description = e.Description.Text
	}
	url := e.URL
	if url == "" {
		url = "No URL available"
	}
	start, end := "No start time available", "No end time available"
	if e.Start != nil && e.Start.Local != "" {
		start = e.Start.Local
	}
	if e.End != nil && e.End.Local != "" {
		end = e.End.Local
	}
	return "Here are the details of the event:\n" +
		"Name: " + name + "\n" +
		"Description: " + description + "\n" +
		"URL: " + url + "\n" +
		"Start Time (Local): " + start + "\n" +
		"End Time (Local): " + end + "\n"
}

// ListAttendees returns all attendees of an event as JSON.
func ListAttendees(events EventService) Tool {
	return New("list_attendees", listAttendeesPrompt, eventIDSchema,
		func(ctx context.Context, args eventIDArgs) (string, error) {
			attendees, err := events.ListAttendees(ctx, args.EventID)
			if err != nil {
				return failure("retrieve attendees", err, true)
			}
			return "Attendees retrieved successfully: " + mustJSON(map[string]any{
				"attendee_count": len(attendees),
				"attendees":      attendees,
			}), nil
		})
}

type createEventArgs struct {
	Name           string `json:"name"`
	Description    string `json:"description"`
	Start          string `json:"start"`
	End            string `json:"end"`
	Timezone       string `json:"timezone"`
	Currency       string `json:"currency"`
	Capacity       int    `json:"capacity"`
	Online         bool   `json:"online_event"`
	OrganizationID string `json:"organization_id"`
}

// CreateEvent creates a draft event. organizationID is used when the model
// does not name one.
func CreateEvent(events EventService, organizationID string) Tool {
	schema := Object(map[string]Property{
		"name":            {Type: "string", Description: "The event name.", Example: "Web3 Meetup"},
		"description":     {Type: "string", Description: "Optional event description."},
		"start":           {Type: "string", Description: "Start time in RFC3339.", Example: "2025-03-01T18:00:00Z"},
		"end":             {Type: "string", Description: "End time in RFC3339.", Example: "2025-03-01T20:00:00Z"},
		"timezone":        {Type: "string", Description: "IANA timezone of the event. Defaults to UTC.", Example: "Europe/Berlin"},
		"currency":        {Type: "string", Description: "Ticket currency. Defaults to USD."},
		"capacity":        {Type: "integer", Description: "Optional attendee capacity."},
		"online_event":    {Type: "boolean", Description: "Whether the event is online."},
		"organization_id": {Type: "string", Description: "Eventbrite organization. Defaults to the configured organization."},
	}, "name", "start", "end")

	return New("create_event", createEventPrompt, schema,
		func(ctx context.Context, args createEventArgs) (string, error) {
			org := strings.TrimSpace(args.OrganizationID)
			if org == "" {
				org = organizationID
			}
			if org == "" {
				return "", xerrors.New(CodeInvalidArguments, "organization_id is required: set EVENTBRITE_ORGANIZATION_ID or pass it explicitly")
			}
			start, err := parseTime("start", args.Start)
			if err != nil {
				return "", err
			}
			end, err := parseTime("end", args.End)
			if err != nil {
				return "", err
			}
			event, err := events.CreateEvent(ctx, org, eventbrite.EventInput{
				Name:        args.Name,
				Description: args.Description,
				Timezone:    args.Timezone,
				Start:       start,
				End:         end,
				Currency:    args.Currency,
				Capacity:    args.Capacity,
				Online:      args.Online,
			})
			if err != nil {
				return failure("create event", err, false)
			}
			return fmt.Sprintf("Event created successfully. ID: %s\n%s", event.ID, FormatEvent(event)), nil
		})
}

func parseTime(field, value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, xerrors.Wrap(CodeInvalidArguments, err, fmt.Sprintf("%s must be an RFC3339 time", field))
	}
	return t, nil
}
