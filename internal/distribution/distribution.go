// Package distribution sends one POAP to every verified attendee of an
// Eventbrite event. It is the scripted form of the flow the chat agent walks
// through tool by tool: list attendees, fetch claim codes, read each code's
// secret and mint it to the attendee's email.
package distribution

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	xerrors "EventSync-Agent/internal/errors"
	"EventSync-Agent/internal/eventbrite"
	"EventSync-Agent/internal/poap"
	"EventSync-Agent/pkg/logger"
)

// AttendeeSource lists an event's attendees.
type AttendeeSource interface {
	ListAttendees(ctx context.Context, eventID string) ([]eventbrite.Attendee, error)
}

// ClaimService is the POAP claim surface used by a run.
type ClaimService interface {
	GetClaimCodes(ctx context.Context, eventID, secretCode string) (*poap.Result[[]poap.ClaimCode], error)
	GetClaimSecret(ctx context.Context, qrHash string) (*poap.Result[poap.ClaimInfo], error)
	Mint(ctx context.Context, address, qrHash, secret string) (*poap.Result[poap.ClaimInfo], error)
}

// Request selects the events and run mode.
type Request struct {
	EventbriteEventID string `json:"eventbrite_event_id"`
	POAPEventID       string `json:"poap_event_id"`
	SecretCode        string `json:"secret_code"`
	// IncludeAll keeps attendees that have not checked in or were refunded.
	IncludeAll bool `json:"include_all,omitempty"`
	// DryRun assigns codes without reading secrets or minting.
	DryRun bool `json:"dry_run,omitempty"`
}

// Outcome of a single attendee.
type Outcome string

const (
	OutcomeMinted  Outcome = "minted"
	OutcomePlanned Outcome = "planned"
	OutcomeFailed  Outcome = "failed"
	OutcomeNoCode  Outcome = "no_code"
)

// Delivery records what happened to one attendee.
type Delivery struct {
	AttendeeID string  `json:"attendee_id"`
	Email      string  `json:"email"`
	QRHash     string  `json:"qr_hash,omitempty"`
	Outcome    Outcome `json:"outcome"`
	TxHash     string  `json:"tx_hash,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// Report summarises a run.
type Report struct {
	Request        Request    `json:"request"`
	TotalAttendees int        `json:"total_attendees"`
	Eligible       int        `json:"eligible"`
	AvailableCodes int        `json:"available_codes"`
	Deliveries     []Delivery `json:"deliveries"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     time.Time  `json:"finished_at"`
}

// Count returns the number of deliveries with outcome o.
func (r *Report) Count(o Outcome) int {
	if r == nil {
		return 0
	}
	n := 0
	for _, d := range r.Deliveries {
		if d.Outcome == o {
			n++
		}
	}
	return n
}

// Summary renders the report for a chat reply.
func (r *Report) Summary() string {
	var b strings.Builder
	verb := "POAP distribution finished"
	if r.Request.DryRun {
		verb = "POAP distribution dry run finished"
	}
	fmt.Fprintf(&b, "%s for Eventbrite event %s (POAP event %s).\n", verb, r.Request.EventbriteEventID, r.Request.POAPEventID)
	fmt.Fprintf(&b, "Attendees: %d, eligible: %d, unclaimed codes: %d.\n", r.TotalAttendees, r.Eligible, r.AvailableCodes)
	fmt.Fprintf(&b, "Minted: %d, planned: %d, failed: %d, without code: %d.\n",
		r.Count(OutcomeMinted), r.Count(OutcomePlanned), r.Count(OutcomeFailed), r.Count(OutcomeNoCode))
	for _, d := range r.Deliveries {
		switch d.Outcome {
		case OutcomeFailed:
			fmt.Fprintf(&b, "- %s: failed: %s\n", d.Email, d.Error)
		case OutcomeNoCode:
			fmt.Fprintf(&b, "- %s: no claim code left\n", d.Email)
		default:
			fmt.Fprintf(&b, "- %s: %s %s\n", d.Email, d.Outcome, d.QRHash)
		}
	}
	return b.String()
}

// Distributor runs distributions sequentially.
type Distributor struct {
	attendees AttendeeSource
	claims    ClaimService
	log       *slog.Logger
	now       func() time.Time
}

// New builds a Distributor.
func New(attendees AttendeeSource, claims ClaimService) *Distributor {
	return &Distributor{
		attendees: attendees,
		claims:    claims,
		log:       logger.Named("distribution"),
		now:       time.Now,
	}
}

// Run performs a distribution. A failure for one attendee is recorded and the
// run moves on. On context cancellation the partial report is returned with
// the error.
func (d *Distributor) Run(ctx context.Context, req Request) (*Report, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	report := &Report{Request: req, StartedAt: d.now()}
	defer func() { report.FinishedAt = d.now() }()

	attendees, err := d.attendees.ListAttendees(ctx, req.EventbriteEventID)
	if err != nil {
		return nil, xerrors.Ensure(err, xerrors.CodeUpstreamFailure, "list attendees")
	}
	report.TotalAttendees = len(attendees)
	eligible := Eligible(attendees, req.IncludeAll)
	report.Eligible = len(eligible)
	if len(eligible) == 0 {
		return report, nil
	}

	codes, err := d.claims.GetClaimCodes(ctx, req.POAPEventID, req.SecretCode)
	if err != nil {
		return nil, xerrors.Ensure(err, xerrors.CodeUpstreamFailure, "get claim codes")
	}
	queue := unclaimed(codes.Value)
	report.AvailableCodes = len(queue)

	for _, attendee := range eligible {
		if err := ctx.Err(); err != nil {
			return report, interrupted(report, err)
		}
		delivery := Delivery{AttendeeID: attendee.ID, Email: attendee.Profile.Email}
		queue = d.deliver(ctx, req.DryRun, queue, &delivery)
		report.Deliveries = append(report.Deliveries, delivery)
		d.log.Info("poap delivery",
			slog.String("attendee_id", delivery.AttendeeID),
			slog.String("outcome", string(delivery.Outcome)),
			slog.String("qr_hash", delivery.QRHash),
		)
	}
	return report, nil
}

// interrupted wraps a cancellation. Once a POAP has been minted the run must
// not be replayed, otherwise the same attendees are served twice.
func interrupted(report *Report, cause error) error {
	minted := report.Count(OutcomeMinted)
	if minted == 0 {
		return xerrors.Wrap(xerrors.CodeTimeout, cause, "distribution interrupted")
	}
	return xerrors.Wrap(xerrors.CodeTimeout, cause,
		fmt.Sprintf("distribution interrupted after %d mints", minted),
		xerrors.WithRetryable(false),
		xerrors.WithMetadata("minted", strconv.Itoa(minted)),
	)
}

// deliver consumes codes from queue until one is minted, one fails, or the
// queue is empty, and returns the remaining queue.
func (d *Distributor) deliver(ctx context.Context, dryRun bool, queue []string, delivery *Delivery) []string {
	for len(queue) > 0 {
		qr := queue[0]
		queue = queue[1:]
		delivery.QRHash = qr

		if dryRun {
			delivery.Outcome = OutcomePlanned
			return queue
		}

		secret, err := d.claims.GetClaimSecret(ctx, qr)
		if err != nil {
			delivery.Outcome = OutcomeFailed
			delivery.Error = err.Error()
			return queue
		}
		if secret.Value.Claimed {
			continue
		}

		minted, err := d.claims.Mint(ctx, delivery.Email, qr, secret.Value.Secret)
		if err != nil {
			delivery.Outcome = OutcomeFailed
			delivery.Error = err.Error()
			return queue
		}
		delivery.Outcome = OutcomeMinted
		delivery.TxHash = minted.Value.TxHash
		return queue
	}
	delivery.QRHash = ""
	delivery.Outcome = OutcomeNoCode
	return queue
}

// Eligible filters attendees to those that should receive a POAP: not
// cancelled, with an email, one per email address. Unless includeAll is set
// they must also be checked in and not refunded.
func Eligible(attendees []eventbrite.Attendee, includeAll bool) []eventbrite.Attendee {
	seen := make(map[string]struct{}, len(attendees))
	out := make([]eventbrite.Attendee, 0, len(attendees))
	for _, a := range attendees {
		if a.Cancelled {
			continue
		}
		if !includeAll && (a.Refunded || !a.CheckedIn) {
			continue
		}
		email := strings.ToLower(strings.TrimSpace(a.Profile.Email))
		if email == "" {
			continue
		}
		if _, dup := seen[email]; dup {
			continue
		}
		seen[email] = struct{}{}
		a.Profile.Email = strings.TrimSpace(a.Profile.Email)
		out = append(out, a)
	}
	return out
}

func unclaimed(codes []poap.ClaimCode) []string {
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		if !c.Claimed && c.QRHash != "" {
			out = append(out, c.QRHash)
		}
	}
	return out
}

func (r Request) validate() error {
	switch {
	case strings.TrimSpace(r.EventbriteEventID) == "":
		return xerrors.New(xerrors.CodeInvalidArgument, "eventbrite_event_id is required")
	case strings.TrimSpace(r.POAPEventID) == "":
		return xerrors.New(xerrors.CodeInvalidArgument, "poap_event_id is required")
	case strings.TrimSpace(r.SecretCode) == "":
		return xerrors.New(xerrors.CodeInvalidArgument, "secret_code is required")
	}
	return nil
}
