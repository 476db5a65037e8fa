// Package poap wraps the POAP claim endpoints: listing an event's claim codes,
// reading the secret for a code, and minting a code to an address or email.
package poap

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

// DefaultBaseURL is the public POAP API endpoint.
const DefaultBaseURL = "https://api.poap.tech"

const serviceName = "poap"

// Options configure a Client.
type Options struct {
	BaseURL       string
	APIKey        string
	AccessToken   string
	RatePerSecond float64
	Timeout       time.Duration
	HTTPClient    *http.Client
}

// ClaimCode is one QR hash for an event.
type ClaimCode struct {
	QRHash  string `json:"qr_hash"`
	Claimed bool   `json:"claimed"`
}

// ClaimInfo is the claim record returned by the claim-qr endpoints.
type ClaimInfo struct {
	ID          int64  `json:"id"`
	QRHash      string `json:"qr_hash"`
	EventID     int64  `json:"event_id"`
	Beneficiary string `json:"beneficiary,omitempty"`
	UserInput   string `json:"user_input,omitempty"`
	Signer      string `json:"signer,omitempty"`
	TxHash      string `json:"tx_hash,omitempty"`
	TxStatus    string `json:"tx_status,omitempty"`
	Claimed     bool   `json:"claimed"`
	ClaimedDate string `json:"claimed_date,omitempty"`
	CreatedDate string `json:"created_date,omitempty"`
	IsActive    bool   `json:"is_active"`
	Secret      string `json:"secret"`
}

// Result pairs a decoded value with the raw body for echoing to the model.
type Result[T any] struct {
	Value T
	Raw   json.RawMessage
}

// Client talks to the POAP API.
type Client struct {
	doer *upstream.Doer
}

// NewClient builds a Client that authenticates with the access token and API key.
func NewClient(opts Options) (*Client, error) {
	base := opts.BaseURL
	if strings.TrimSpace(base) == "" {
		base = DefaultBaseURL
	}
	header := http.Header{}
	if opts.AccessToken != "" {
		header.Set("Authorization", "Bearer "+opts.AccessToken)
	}
	if opts.APIKey != "" {
		header.Set("X-API-Key", opts.APIKey)
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
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "init poap client")
	}
	return &Client{doer: doer}, nil
}

// GetClaimCodes lists the QR hashes of a POAP event. The secret code is the
// edit code issued when the drop was created.
func (c *Client) GetClaimCodes(ctx context.Context, eventID, secretCode string) (*Result[[]ClaimCode], error) {
	if err := requireField("event_id", eventID); err != nil {
		return nil, err
	}
	if err := requireField("secret_code", secretCode); err != nil {
		return nil, err
	}
	resp, err := c.doer.Do(ctx, upstream.Request{
		Operation: "get_claim_codes",
		Method:    http.MethodPost,
		Path:      "/event/" + url.PathEscape(eventID) + "/qr-codes",
		Body:      map[string]string{"secret_code": secretCode},
	})
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, c.doer.Err(resp, "")
	}
	var codes []ClaimCode
	if err := resp.Decode(&codes); err != nil {
		return nil, err
	}
	return &Result[[]ClaimCode]{Value: codes, Raw: json.RawMessage(resp.Body)}, nil
}

// GetClaimSecret reads the claim record, including its secret, for a QR hash.
func (c *Client) GetClaimSecret(ctx context.Context, qrHash string) (*Result[ClaimInfo], error) {
	if err := requireField("qr_hash", qrHash); err != nil {
		return nil, err
	}
	resp, err := c.doer.Do(ctx, upstream.Request{
		Operation: "get_claim_secret",
		Method:    http.MethodGet,
		Path:      "/actions/claim-qr",
		Query:     url.Values{"qr_hash": []string{qrHash}},
	})
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, c.doer.Err(resp, "")
	}
	var info ClaimInfo
	if err := resp.Decode(&info); err != nil {
		return nil, err
	}
	return &Result[ClaimInfo]{Value: info, Raw: json.RawMessage(resp.Body)}, nil
}

// Mint claims the QR hash for address, which may be an Ethereum address, an
// ENS name or an email. POAP emails the mint link.
func (c *Client) Mint(ctx context.Context, address, qrHash, secret string) (*Result[ClaimInfo], error) {
	for _, f := range [...]struct{ name, value string }{
		{"address", address},
		{"qr_hash", qrHash},
		{"secret", secret},
	} {
		if err := requireField(f.name, f.value); err != nil {
			return nil, err
		}
	}
	resp, err := c.doer.Do(ctx, upstream.Request{
		Operation: "mint",
		Method:    http.MethodPost,
		Path:      "/actions/claim-qr",
		Body: map[string]any{
			"sendEmail": true,
			"address":   address,
			"qr_hash":   qrHash,
			"secret":    secret,
		},
	})
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, c.doer.Err(resp, "")
	}
	var info ClaimInfo
	if err := resp.Decode(&info); err != nil {
		return nil, err
	}
	return &Result[ClaimInfo]{Value: info, Raw: json.RawMessage(resp.Body)}, nil
}

func requireField(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("%s is required", field))
	}
	return nil
}
