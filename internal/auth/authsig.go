// Package auth handles EIP-191 signed credentials: the AuthSig callers present
// and the AuthSig the relay hands out for capacity delegation.
package auth

import (
	"encoding/json"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/congo-pay/pkp-relay/internal/apperr"
	"github.com/congo-pay/pkp-relay/internal/identity"
	"github.com/congo-pay/pkp-relay/internal/ledger"
)

// DerivedViaPersonalSign marks signatures produced with personal_sign.
const DerivedViaPersonalSign = "web3.eth.personal.sign"

// AuthSig is a message signed with EIP-191 plus the claimed signer.
type AuthSig struct {
	Sig           string `json:"sig"`
	DerivedVia    string `json:"derivedVia"`
	SignedMessage string `json:"signedMessage"`
	Address       string `json:"address"`
}

// Sign produces an AuthSig over message with signer.
func Sign(signer *ledger.Signer, message string) (AuthSig, error) {
	sig, err := signer.SignPersonal([]byte(message))
	if err != nil {
		return AuthSig{}, err
	}
	return AuthSig{
		Sig:           hexutil.Encode(sig),
		DerivedVia:    DerivedViaPersonalSign,
		SignedMessage: message,
		Address:       signer.Address().Hex(),
	}, nil
}

// Verify recovers the signer of a.SignedMessage and compares it with a.Address.
func Verify(a AuthSig) (common.Address, error) {
	if !common.IsHexAddress(a.Address) {
		return common.Address{}, apperr.Validation("auth sig address %q is not a valid address", a.Address)
	}
	sig, err := hexutil.Decode(a.Sig)
	if err != nil {
		return common.Address{}, apperr.New(apperr.KindValidation, "decode auth sig", err)
	}
	recovered, err := ledger.RecoverPersonal([]byte(a.SignedMessage), sig)
	if err != nil {
		return common.Address{}, apperr.New(apperr.KindValidation, "recover auth sig signer", err)
	}
	if !strings.EqualFold(recovered.Hex(), a.Address) {
		return common.Address{}, apperr.Validation("auth sig signed by %s, claims %s", recovered.Hex(), a.Address)
	}
	return recovered, nil
}

// VerifyAuthMethod treats the access token of m as an AuthSig and verifies it.
func VerifyAuthMethod(m identity.AuthMethod) error {
	var a AuthSig
	if err := json.Unmarshal([]byte(m.AccessToken), &a); err != nil {
		return apperr.New(apperr.KindValidation, "access token is not an auth sig", err)
	}
	_, err := Verify(a)
	return err
}
