package tools

import (
	"context"

	"EventSync-Agent/internal/distribution"
)

// Distributor runs a full attendee airdrop.
type Distributor interface {
	Run(ctx context.Context, req distribution.Request) (*distribution.Report, error)
}

// DistributePOAPs exposes a distribution run as one tool call.
func DistributePOAPs(d Distributor) Tool {
	schema := Object(map[string]Property{
		"eventbrite_event_id": {Type: "string", Description: "The Eventbrite event whose attendees receive the POAP."},
		"poap_event_id":       {Type: "string", Description: "The POAP event to mint from."},
		"secret_code":         {Type: "string", Description: "The POAP event's secret code."},
		"include_all":         {Type: "boolean", Description: "Include attendees who did not check in."},
		"dry_run":             {Type: "boolean", Description: "Only show which attendee would get which code."},
	}, "eventbrite_event_id", "poap_event_id", "secret_code")

	return New("distribute_poaps", distributePrompt, schema,
		func(ctx context.Context, req distribution.Request) (string, error) {
			report, err := d.Run(ctx, req)
			if err != nil {
				if report != nil {
					return report.Summary(), err
				}
				return failure("distribute POAPs", err, true)
			}
			return report.Summary(), nil
		})
}
