// Package identity derives the ledger-side identifiers of an authenticated caller.
package identity

import (
	"encoding/hex"
	"encoding/json"
	"strings"

	"golang.org/x/crypto/sha3"

	"github.com/congo-pay/pkp-relay/internal/apperr"
)

const authMethodSuffix = ":lit"

// emptyPubKey is sent for auth methods that carry no public key.
const emptyPubKey = "0x"

// ParseAddress extracts the address from the JSON access token.
func ParseAddress(m AuthMethod) (string, error) {
	var tok accessToken
	if err := json.Unmarshal([]byte(m.AccessToken), &tok); err != nil {
		return "", apperr.New(apperr.KindValidation, "parse access token", err)
	}
	addr := strings.TrimSpace(tok.Address)
	if addr == "" {
		return "", apperr.Validation("access token carries no address")
	}
	return addr, nil
}

// AuthMethodID returns keccak256(address + ":lit") as 0x-prefixed hex.
// The address is hashed exactly as presented; callers that want case
// insensitivity must normalize first.
func AuthMethodID(address string) string {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(address + authMethodSuffix))
	return "0x" + hex.EncodeToString(h.Sum(nil))
}

// RelayData parses m and returns the values a mint binds to the caller.
func RelayData(m AuthMethod) (RelayRequestData, error) {
	addr, err := ParseAddress(m)
	if err != nil {
		return RelayRequestData{}, err
	}
	return RelayRequestData{
		AuthMethodType:   m.AuthMethodType,
		AuthMethodID:     AuthMethodID(addr),
		AuthMethodPubKey: emptyPubKey,
	}, nil
}
