package pkp

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"
)

const mintMethod = "mintNextAndAddAuthMethods"

// Record is a confirmed mint: the token, its public key and the account
// address derived from that key.
type Record struct {
	TokenID    string `json:"tokenId"`
	PublicKey  string `json:"publicKey"`
	EthAddress string `json:"ethAddress"`
}

// MintRequest holds the arguments of one mint-and-authorize call. Values are
// produced by RequestBuilder and never mutated afterwards.
type MintRequest struct {
	KeyType                            *big.Int
	PermittedAuthMethodTypes           []*big.Int
	PermittedAuthMethodIDs             [][]byte
	PermittedAuthMethodPubkeys         [][]byte
	PermittedAuthMethodScopes          [][]*big.Int
	AddPkpEthAddressAsPermittedAddress bool
	SendPkpToItself                    bool

	// Carried for callers but not part of the helper call.
	BurnPkp                   bool
	SendToAddressAfterMinting string
	PkpEthAddressScopes       []string
}

// args returns the helper call arguments in ABI order.
func (r MintRequest) args() []any {
	return []any{
		r.KeyType,
		r.PermittedAuthMethodTypes,
		r.PermittedAuthMethodIDs,
		r.PermittedAuthMethodPubkeys,
		r.PermittedAuthMethodScopes,
		r.AddPkpEthAddressAsPermittedAddress,
		r.SendPkpToItself,
	}
}

// digest fingerprints the full request so differing overrides never share a mint.
func (r MintRequest) digest() string {
	return crypto.Keccak256Hash([]byte(fmt.Sprintf("%v", r))).Hex()
}
