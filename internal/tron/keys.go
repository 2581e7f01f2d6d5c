package tron

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

var ErrInvalidKey = errors.New("invalid private key")

// Account is a freshly generated key pair. PrivateKey is hex encoded and must
// only ever be persisted through the vault.
type Account struct {
	Address    string
	PrivateKey string
}

func GenerateAccount() (*Account, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return &Account{
		Address:    addressFromPublicKey(priv.PubKey().SerializeUncompressed()).String(),
		PrivateKey: hex.EncodeToString(priv.Serialize()),
	}, nil
}

// AddressFromPrivateKey returns the base58 address owning a hex private key.
func AddressFromPrivateKey(privHex string) (string, error) {
	priv, err := parsePrivateKey(privHex)
	if err != nil {
		return "", err
	}
	return addressFromPublicKey(priv.PubKey().SerializeUncompressed()).String(), nil
}

func parsePrivateKey(privHex string) (*secp256k1.PrivateKey, error) {
	raw, err := hex.DecodeString(privHex)
	if err != nil || len(raw) != 32 {
		return nil, ErrInvalidKey
	}
	return secp256k1.PrivKeyFromBytes(raw), nil
}

// signTxID signs a 32-byte transaction id, returning r || s || v.
func signTxID(priv *secp256k1.PrivateKey, txID []byte) ([]byte, error) {
	if len(txID) != 32 {
		return nil, fmt.Errorf("transaction id must be 32 bytes, got %d", len(txID))
	}
	compact := ecdsa.SignCompact(priv, txID, false)
	sig := make([]byte, 65)
	copy(sig, compact[1:])
	sig[64] = compact[0]
	return sig, nil
}
