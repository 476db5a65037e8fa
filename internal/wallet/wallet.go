// Package wallet manages the agent's persisted EVM key. The key file is read
// on start when present, otherwise a key is generated, and in both cases the
// wallet is written back so the file always reflects the wallet in use.
package wallet

import (
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	xerrors "EventSync-Agent/internal/errors"
)

// Data is the on-disk wallet export.
type Data struct {
	NetworkID  string `json:"network_id"`
	Address    string `json:"address"`
	PrivateKey string `json:"private_key"`
}

// Wallet signs on behalf of the agent.
type Wallet struct {
	networkID string
	address   common.Address
	key       *ecdsa.PrivateKey
}

// LoadOrCreate restores the wallet stored at path or creates a new one, then
// exports it back to path with owner-only permissions.
func LoadOrCreate(path, networkID string) (*Wallet, error) {
	if strings.TrimSpace(path) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "wallet path is required")
	}

	w, err := load(path)
	switch {
	case err == nil:
		if w.networkID == "" {
			w.networkID = networkID
		}
	case errors.Is(err, fs.ErrNotExist):
		key, genErr := crypto.GenerateKey()
		if genErr != nil {
			return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, genErr, "generate wallet key")
		}
		w = fromKey(key, networkID)
	default:
		return nil, err
	}

	if err := w.Export(path); err != nil {
		return nil, err
	}
	return w, nil
}

// FromHex builds a wallet from a hex private key.
func FromHex(privateKey, networkID string) (*Wallet, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(privateKey), "0x"))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "parse wallet private key")
	}
	return fromKey(key, networkID), nil
}

func fromKey(key *ecdsa.PrivateKey, networkID string) *Wallet {
	return &Wallet{networkID: networkID, address: crypto.PubkeyToAddress(key.PublicKey), key: key}
}

func load(path string) (*Wallet, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "read wallet file")
	}
	var data Data
	if err := json.Unmarshal(content, &data); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "decode wallet file", xerrors.WithRetryable(false))
	}
	w, err := FromHex(data.PrivateKey, data.NetworkID)
	if err != nil {
		return nil, err
	}
	if data.Address != "" && !strings.EqualFold(data.Address, w.address.Hex()) {
		return nil, xerrors.New(xerrors.CodeInitializationFailure,
			fmt.Sprintf("wallet file address %s does not match key address %s", data.Address, w.address.Hex()),
			xerrors.WithRetryable(false))
	}
	return w, nil
}

// Export writes the wallet to path atomically.
func (w *Wallet) Export(path string) error {
	data := Data{
		NetworkID:  w.networkID,
		Address:    w.address.Hex(),
		PrivateKey: hex.EncodeToString(crypto.FromECDSA(w.key)),
	}
	content, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "encode wallet")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "create wallet directory")
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, content, 0o600); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "write wallet file")
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "replace wallet file")
	}
	return nil
}

// Address returns the wallet's checksummed address.
func (w *Wallet) Address() common.Address { return w.address }

// NetworkID returns the network the wallet was created for.
func (w *Wallet) NetworkID() string { return w.networkID }

// SignMessage produces an EIP-191 personal_sign signature with V in {27, 28}.
func (w *Wallet) SignMessage(message []byte) ([]byte, error) {
	sig, err := crypto.Sign(accounts.TextHash(message), w.key)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeExecutorFailure, err, "sign message", xerrors.WithRetryable(false))
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// RecoverSigner returns the address that produced an EIP-191 signature.
func RecoverSigner(message, signature []byte) (common.Address, error) {
	if len(signature) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("signature must be %d bytes", crypto.SignatureLength)
	}
	sig := make([]byte, len(signature))
	copy(sig, signature)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash(message), sig)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}
