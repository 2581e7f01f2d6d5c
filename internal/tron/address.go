package tron

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/sha3"
)

const addressPrefix = 0x41

var ErrInvalidAddress = errors.New("invalid TRON address")

// Address is the 21-byte form: 0x41 followed by the 20-byte account id.
type Address [21]byte

// ParseAddress accepts the base58check form ("T...") or 41-prefixed hex.
func ParseAddress(s string) (Address, error) {
	var a Address
	s = strings.TrimSpace(s)

	if len(s) == 42 && strings.HasPrefix(s, "41") {
		raw, err := hex.DecodeString(s)
		if err != nil {
			return a, ErrInvalidAddress
		}
		copy(a[:], raw)
		return a, nil
	}

	raw, err := base58.Decode(s)
	if err != nil || len(raw) != 25 {
		return a, ErrInvalidAddress
	}
	payload, checksum := raw[:21], raw[21:]
	if !bytes.Equal(checksum, doubleSHA256(payload)[:4]) {
		return a, ErrInvalidAddress
	}
	if payload[0] != addressPrefix {
		return a, ErrInvalidAddress
	}
	copy(a[:], payload)
	return a, nil
}

// IsValidAddress reports whether s is a well-formed base58check TRON address.
func IsValidAddress(s string) bool {
	if !strings.HasPrefix(s, "T") {
		return false
	}
	_, err := ParseAddress(s)
	return err == nil
}

func (a Address) String() string {
	payload := a[:]
	return base58.Encode(append(append([]byte{}, payload...), doubleSHA256(payload)[:4]...))
}

func (a Address) Hex() string {
	return hex.EncodeToString(a[:])
}

// abiWord is the address as a left-padded 32-byte ABI argument.
func (a Address) abiWord() string {
	return fmt.Sprintf("%064s", hex.EncodeToString(a[1:]))
}

// addressFromPublicKey derives the address from a 65-byte uncompressed key.
func addressFromPublicKey(uncompressed []byte) Address {
	h := sha3.NewLegacyKeccak256()
	h.Write(uncompressed[1:])
	sum := h.Sum(nil)

	var a Address
	a[0] = addressPrefix
	copy(a[1:], sum[len(sum)-20:])
	return a
}

func doubleSHA256(b []byte) []byte {
	first := sha256.Sum256(b)
	second := sha256.Sum256(first[:])
	return second[:]
}
