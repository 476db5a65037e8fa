package tools

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	xerrors "EventSync-Agent/internal/errors"
	"EventSync-Agent/internal/eventbrite"
	"EventSync-Agent/internal/poap"
	"EventSync-Agent/internal/wallet"
	"EventSync-Agent/internal/web3"
)

func newEventbrite(t *testing.T, handler http.HandlerFunc) *eventbrite.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := eventbrite.NewClient(eventbrite.Options{BaseURL: srv.URL, Token: "t", HTTPClient: srv.Client()})
	require.NoError(t, err)
	return c
}

func newPOAP(t *testing.T, handler http.HandlerFunc) *poap.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := poap.NewClient(poap.Options{BaseURL: srv.URL, APIKey: "k", AccessToken: "a", HTTPClient: srv.Client()})
	require.NoError(t, err)
	return c
}

func TestRetrieveEventFormatsDetails(t *testing.T) {
	events := newEventbrite(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"1","name":{"text":"Launch Party"},"url":"https://eb.io/e/1","start":{"local":"2024-05-01T18:00:00"},"end":{"local":"2024-05-01T21:00:00"}}`))
	})
	reg, err := NewRegistry(RetrieveEvent(events))
	require.NoError(t, err)

	out, err := reg.Invoke(context.Background(), "retrieve_event", json.RawMessage(`{"event_id":"1"}`))
	require.NoError(t, err)
	require.Equal(t, "Here are the details of the event:\n"+
		"Name: Launch Party\n"+
		"Description: No description available\n"+
		"URL: https://eb.io/e/1\n"+
		"Start Time (Local): 2024-05-01T18:00:00\n"+
		"End Time (Local): 2024-05-01T21:00:00\n", out)
}

func TestRetrieveEventFailureIsObservation(t *testing.T) {
	events := newEventbrite(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error_description":"The event you requested does not exist."}`))
	})
	reg, err := NewRegistry(RetrieveEvent(events))
	require.NoError(t, err)

	out, err := reg.Invoke(context.Background(), "retrieve_event", json.RawMessage(`{"event_id":"404"}`))
	require.NoError(t, err)
	require.Equal(t, "Failed to retrieve event. Status Code: 404. Error: The event you requested does not exist.", out)
}

func TestServerErrorIsObservationAndRetryable(t *testing.T) {
	claims := newPOAP(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"message":"down"}`))
	})
	reg, err := NewRegistry(GetClaimSecret(claims))
	require.NoError(t, err)

	out, err := reg.Invoke(context.Background(), "get_claim_secret", json.RawMessage(`{"qr_hash":"abc"}`))
	require.Error(t, err)
	require.True(t, xerrors.RetryableError(err))
	require.Equal(t, `Failed to retrieve claim secret. Status Code: 503. Error: {"message":"down"}`, out)
}

func TestPOAPToolsEchoVendorBody(t *testing.T) {
	claims := newPOAP(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/event/9/qr-codes":
			_, _ = w.Write([]byte(`[ {"qr_hash": "abc", "claimed": false} ]`))
		case "/actions/claim-qr":
			if r.Method == http.MethodPost {
				_, _ = w.Write([]byte(`{"qr_hash":"abc","claimed":true}`))
				return
			}
			_, _ = w.Write([]byte(`{"qr_hash":"abc","secret":"s"}`))
		}
	})
	reg, err := NewRegistry(GetClaimCodes(claims), GetClaimSecret(claims), MintPOAP(claims))
	require.NoError(t, err)
	ctx := context.Background()

	out, err := reg.Invoke(ctx, "get_claim_codes", json.RawMessage(`{"event_id":"9","secret_code":"1"}`))
	require.NoError(t, err)
	require.Equal(t, `Claim codes retrieved successfully: [{"qr_hash":"abc","claimed":false}]`, out)

	out, err = reg.Invoke(ctx, "get_claim_secret", json.RawMessage(`{"qr_hash":"abc"}`))
	require.NoError(t, err)
	require.Equal(t, `Claim secret retrieved successfully: {"qr_hash":"abc","secret":"s"}`, out)

	out, err = reg.Invoke(ctx, "mint_poap", json.RawMessage(`{"address":"a@x.io","qr_hash":"abc","secret":"s"}`))
	require.NoError(t, err)
	require.Equal(t, `POAP minted successfully: {"qr_hash":"abc","claimed":true}`, out)
}

func TestListAttendeesOutput(t *testing.T) {
	events := newEventbrite(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"pagination":{"has_more_items":false},"attendees":[{"id":"a1","checked_in":true,"profile":{"email":"a@x.io"}}]}`))
	})
	reg, err := NewRegistry(ListAttendees(events))
	require.NoError(t, err)

	out, err := reg.Invoke(context.Background(), "list_attendees", json.RawMessage(`{"event_id":"1"}`))
	require.NoError(t, err)
	require.Contains(t, out, "Attendees retrieved successfully: ")
	require.Contains(t, out, `"attendee_count":1`)
	require.Contains(t, out, `"email":"a@x.io"`)
}

func TestCreateEventUsesConfiguredOrganization(t *testing.T) {
	var path string
	events := newEventbrite(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_, _ = w.Write([]byte(`{"id":"55","name":{"text":"Meetup"}}`))
	})
	reg, err := NewRegistry(CreateEvent(events, "org-9"))
	require.NoError(t, err)

	out, err := reg.Invoke(context.Background(), "create_event",
		json.RawMessage(`{"name":"Meetup","start":"2025-03-01T18:00:00Z","end":"2025-03-01T20:00:00Z"}`))
	require.NoError(t, err)
	require.Equal(t, "/organizations/org-9/events/", path)
	require.Contains(t, out, "Event created successfully. ID: 55")

	_, err = reg.Invoke(context.Background(), "create_event",
		json.RawMessage(`{"name":"Meetup","start":"tomorrow","end":"2025-03-01T20:00:00Z"}`))
	require.Equal(t, CodeInvalidArguments, xerrors.CodeOf(err))
}

func TestRegistryValidation(t *testing.T) {
	reg, err := NewRegistry(SignMessage(mustWallet(t)))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = reg.Invoke(ctx, "nope", nil)
	require.Equal(t, CodeToolNotFound, xerrors.CodeOf(err))

	_, err = reg.Invoke(ctx, "sign_message", json.RawMessage(`{}`))
	require.Equal(t, CodeInvalidArguments, xerrors.CodeOf(err))

	_, err = reg.Invoke(ctx, "sign_message", json.RawMessage(`{"message":""}`))
	require.Equal(t, CodeInvalidArguments, xerrors.CodeOf(err))

	_, err = reg.Invoke(ctx, "sign_message", json.RawMessage(`[1]`))
	require.Equal(t, CodeInvalidArguments, xerrors.CodeOf(err))

	out, err := reg.Invoke(ctx, "sign_message", json.RawMessage(`"{\"message\":\"hi\"}"`))
	require.NoError(t, err)
	require.Contains(t, out, "0x")

	require.Error(t, reg.Register(SignMessage(mustWallet(t))))
}

func TestSpecsAreSortedWithSchemas(t *testing.T) {
	reg, err := Builtin(Dependencies{
		Events: &eventbrite.Client{},
		Claims: &poap.Client{},
		Wallet: mustWallet(t),
	})
	require.NoError(t, err)

	specs := reg.Specs()
	require.Len(t, specs, 9)
	require.Equal(t, "create_event", specs[0].Name)

	var schema Schema
	for _, s := range specs {
		if s.Name == "mint_poap" {
			require.NoError(t, json.Unmarshal(s.Parameters, &schema))
		}
	}
	require.ElementsMatch(t, []string{"address", "qr_hash", "secret"}, schema.Required)
}

type fakeChain struct {
	balance *big.Int
	err     error
}

func (f fakeChain) FetchChainSnapshot(context.Context) (web3.ChainSnapshot, error) {
	return web3.ChainSnapshot{Name: "base-sepolia", ChainID: "0x14a34", BlockNumber: "0x1"}, f.err
}
func (f fakeChain) BalanceAt(context.Context, common.Address) (*big.Int, error) { return f.balance, f.err }
func (f fakeChain) Close()                                                       {}

type fakeChains struct{ client web3.Client }

func (f fakeChains) DefaultClient() (web3.Client, error) {
	if f.client == nil {
		return nil, errors.New("no chain")
	}
	return f.client, nil
}

func TestWalletTools(t *testing.T) {
	w := mustWallet(t)
	chains := fakeChains{client: fakeChain{balance: big.NewInt(1_500_000_000_000_000_000)}}
	reg, err := NewRegistry(WalletDetails(w, chains), Balance(w, chains))
	require.NoError(t, err)
	ctx := context.Background()

	out, err := reg.Invoke(ctx, "get_wallet_details", nil)
	require.NoError(t, err)
	require.Contains(t, out, w.Address().Hex())
	require.Contains(t, out, "Chain: base-sepolia")

	out, err = reg.Invoke(ctx, "get_balance", nil)
	require.NoError(t, err)
	require.Contains(t, out, "1.5 ETH")

	_, err = reg.Invoke(ctx, "get_balance", json.RawMessage(`{"address":"not-an-address"}`))
	require.Equal(t, CodeInvalidArguments, xerrors.CodeOf(err))
}

func TestFormatEther(t *testing.T) {
	require.Equal(t, "0", FormatEther(big.NewInt(0)))
	require.Equal(t, "0.000000000000000001", FormatEther(big.NewInt(1)))
	require.Equal(t, "2", FormatEther(big.NewInt(2_000_000_000_000_000_000)))
}

func mustWallet(t *testing.T) *wallet.Wallet {
	t.Helper()
	w, err := wallet.FromHex("4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318", "base-sepolia")
	require.NoError(t, err)
	return w
}
