package tools

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	xerrors "EventSync-Agent/internal/errors"
	"EventSync-Agent/internal/web3"
)

// Signer is the agent wallet.
type Signer interface {
	Address() common.Address
	NetworkID() string
	SignMessage(message []byte) ([]byte, error)
}

// ChainSource resolves the chain the wallet tools read from.
type ChainSource interface {
	DefaultClient() (web3.Client, error)
}

// WalletDetails reports the wallet address and network, plus chain head
// details when a chain is reachable.
func WalletDetails(wallet Signer, chains ChainSource) Tool {
	return New("get_wallet_details", walletDetailsPrompt, Object(nil),
		func(ctx context.Context, _ struct{}) (string, error) {
			out := fmt.Sprintf("Wallet: %s\nNetwork: %s\n", wallet.Address().Hex(), wallet.NetworkID())
			if chains == nil {
				return out, nil
			}
			client, err := chains.DefaultClient()
			if err != nil {
				return out, nil
			}
			snapshot, err := client.FetchChainSnapshot(ctx)
			if err != nil {
				return out + "Chain: unavailable (" + err.Error() + ")\n", nil
			}
			return out + fmt.Sprintf("Chain: %s (id %s, block %s)\n", snapshot.Name, snapshot.ChainID, snapshot.BlockNumber), nil
		})
}

type balanceArgs struct {
	Address string `json:"address"`
}

// Balance reports the native balance of an address, defaulting to the wallet.
func Balance(wallet Signer, chains ChainSource) Tool {
	schema := Object(map[string]Property{
		"address": {Type: "string", Description: "0x-prefixed address. Defaults to the agent wallet."},
	})
	return New("get_balance", balancePrompt, schema,
		func(ctx context.Context, args balanceArgs) (string, error) {
			if chains == nil {
				return "", xerrors.New(xerrors.CodeInitializationFailure, "no chain RPC endpoint is configured", xerrors.WithRetryable(false))
			}
			addr := wallet.Address()
			if raw := strings.TrimSpace(args.Address); raw != "" {
				if !common.IsHexAddress(raw) {
					return "", xerrors.New(CodeInvalidArguments, fmt.Sprintf("%q is not a valid address", raw))
				}
				addr = common.HexToAddress(raw)
			}
			client, err := chains.DefaultClient()
			if err != nil {
				return "", xerrors.Wrap(xerrors.CodeInitializationFailure, err, "resolve chain client", xerrors.WithRetryable(false))
			}
			wei, err := client.BalanceAt(ctx, addr)
			if err != nil {
				return "", xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "query balance")
			}
			return fmt.Sprintf("Balance of %s: %s ETH (%s wei)", addr.Hex(), FormatEther(wei), wei.String()), nil
		})
}

type signArgs struct {
	Message string `json:"message"`
}

// SignMessage signs text with the wallet.
func SignMessage(wallet Signer) Tool {
	schema := Object(map[string]Property{
		"message": {Type: "string", Description: "The text to sign."},
	}, "message")
	return New("sign_message", signMessagePrompt, schema,
		func(_ context.Context, args signArgs) (string, error) {
			sig, err := wallet.SignMessage([]byte(args.Message))
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Signed by %s: %s", wallet.Address().Hex(), hexutil.Encode(sig)), nil
		})
}

var weiPerEther = new(big.Float).SetInt(big.NewInt(1_000_000_000_000_000_000))

// FormatEther renders wei as ether with up to 18 decimals, trailing zeros removed.
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	f := new(big.Float).SetPrec(256).SetInt(wei)
	f.Quo(f, weiPerEther)
	s := f.Text('f', 18)
	if strings.Contains(s, ".") {
		s = strings.TrimRight(strings.TrimRight(s, "0"), ".")
	}
	return s
}
