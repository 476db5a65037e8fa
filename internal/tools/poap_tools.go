package tools

import (
	"context"
	"encoding/json"

	"EventSync-Agent/internal/poap"
)

// ClaimService is the POAP surface the tools call.
type ClaimService interface {
	GetClaimCodes(ctx context.Context, eventID, secretCode string) (*poap.Result[[]poap.ClaimCode], error)
	GetClaimSecret(ctx context.Context, qrHash string) (*poap.Result[poap.ClaimInfo], error)
	Mint(ctx context.Context, address, qrHash, secret string) (*poap.Result[poap.ClaimInfo], error)
}

type claimCodesArgs struct {
	EventID    string `json:"event_id"`
	SecretCode string `json:"secret_code"`
}

// GetClaimCodes lists the QR hashes of a POAP event.
func GetClaimCodes(claims ClaimService) Tool {
	schema := Object(map[string]Property{
		"event_id":    {Type: "string", Description: "The ID of the POAP event. Example: '182857'.", Example: "182857"},
		"secret_code": {Type: "string", Description: "The secret code of the POAP event. Example: '517278'.", Example: "517278"},
	}, "event_id", "secret_code")

	return New("get_claim_codes", getClaimCodesPrompt, schema,
		func(ctx context.Context, args claimCodesArgs) (string, error) {
			res, err := claims.GetClaimCodes(ctx, args.EventID, args.SecretCode)
			if err != nil {
				return failure("retrieve claim codes", err, true)
			}
			return "Claim codes retrieved successfully: " + compact(res.Raw), nil
		})
}

type claimSecretArgs struct {
	QRHash string `json:"qr_hash"`
}

// GetClaimSecret reads the secret for a QR hash.
func GetClaimSecret(claims ClaimService) Tool {
	schema := Object(map[string]Property{
		"qr_hash": {Type: "string", Description: "The QR hash (claim code). Example: 'abc123def456'.", Example: "abc123def456"},
	}, "qr_hash")

	return New("get_claim_secret", getClaimSecretPrompt, schema,
		func(ctx context.Context, args claimSecretArgs) (string, error) {
			res, err := claims.GetClaimSecret(ctx, args.QRHash)
			if err != nil {
				return failure("retrieve claim secret", err, true)
			}
			return "Claim secret retrieved successfully: " + compact(res.Raw), nil
		})
}

type mintArgs struct {
	Address string `json:"address"`
	QRHash  string `json:"qr_hash"`
	Secret  string `json:"secret"`
}

// MintPOAP claims a QR hash for an address or email.
func MintPOAP(claims ClaimService) Tool {
	schema := Object(map[string]Property{
		"address": {Type: "string", Description: "The attendee's email, Ethereum address or ENS. Example: 'attendee@example.com'.", Example: "attendee@example.com"},
		"qr_hash": {Type: "string", Description: "The QR hash (claim code) for the POAP. Example: 'abc123def456'.", Example: "abc123def456"},
		"secret":  {Type: "string", Description: "The claim secret for the POAP."},
	}, "address", "qr_hash", "secret")

	return New("mint_poap", mintPOAPPrompt, schema,
		func(ctx context.Context, args mintArgs) (string, error) {
			res, err := claims.Mint(ctx, args.Address, args.QRHash, args.Secret)
			if err != nil {
				return failure("mint POAP", err, true)
			}
			return "POAP minted successfully: " + compact(res.Raw), nil
		})
}

func mustJSON(v any) string {
	out, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(out)
}
