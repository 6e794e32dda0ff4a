package pkp

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/congo-pay/pkp-relay/internal/apperr"
	"github.com/congo-pay/pkp-relay/internal/identity"
)

const (
	defaultKeyType = 2
	// scopeSignAnything is the permission scope a fresh auth method receives.
	scopeSignAnything = 1
)

// RequestBuilder merges caller overrides onto the defaults derived from the
// caller's identity.
type RequestBuilder struct {
	data      identity.RelayRequestData
	overrides Overrides
}

// NewRequestBuilder starts a request bound to one caller.
func NewRequestBuilder(data identity.RelayRequestData) *RequestBuilder {
	return &RequestBuilder{data: data}
}

// WithOverrides replaces the overrides applied by Build.
func (b *RequestBuilder) WithOverrides(o Overrides) *RequestBuilder {
	b.overrides = o
	return b
}

// Build returns the merged request. Per-auth-method arrays must end up the
// same length; mismatches are rejected rather than padded.
func (b *RequestBuilder) Build() (MintRequest, error) {
	pubkey := b.data.AuthMethodPubKey
	if pubkey == "" {
		pubkey = "0x"
	}
	idBytes, err := decodeHex("authMethodId", b.data.AuthMethodID)
	if err != nil {
		return MintRequest{}, err
	}
	pubBytes, err := decodeHex("authMethodPubKey", pubkey)
	if err != nil {
		return MintRequest{}, err
	}

	req := MintRequest{
		KeyType:                            big.NewInt(defaultKeyType),
		PermittedAuthMethodTypes:           []*big.Int{big.NewInt(int64(b.data.AuthMethodType))},
		PermittedAuthMethodIDs:             [][]byte{idBytes},
		PermittedAuthMethodPubkeys:         [][]byte{pubBytes},
		PermittedAuthMethodScopes:          [][]*big.Int{{big.NewInt(scopeSignAnything)}},
		AddPkpEthAddressAsPermittedAddress: true,
		SendPkpToItself:                    true,
		BurnPkp:                            false,
		SendToAddressAfterMinting:          unsetAddress,
		PkpEthAddressScopes:                []string{"1"},
	}

	o := b.overrides
	if o.KeyType != nil {
		if req.KeyType, err = numeric("keyType", *o.KeyType); err != nil {
			return MintRequest{}, err
		}
	}
	if o.PermittedAuthMethodTypes != nil {
		if req.PermittedAuthMethodTypes, err = numerics("permittedAuthMethodTypes", o.PermittedAuthMethodTypes); err != nil {
			return MintRequest{}, err
		}
	}
	if o.PermittedAuthMethodIDs != nil {
		if req.PermittedAuthMethodIDs, err = decodeHexList("permittedAuthMethodIds", o.PermittedAuthMethodIDs); err != nil {
			return MintRequest{}, err
		}
	}
	if o.PermittedAuthMethodPubkeys != nil {
		if req.PermittedAuthMethodPubkeys, err = decodeHexList("permittedAuthMethodPubkeys", o.PermittedAuthMethodPubkeys); err != nil {
			return MintRequest{}, err
		}
	}
	if o.PermittedAuthMethodScopes != nil {
		scopes := make([][]*big.Int, len(o.PermittedAuthMethodScopes))
		for i, set := range o.PermittedAuthMethodScopes {
			if scopes[i], err = numerics("permittedAuthMethodScopes", set); err != nil {
				return MintRequest{}, err
			}
		}
		req.PermittedAuthMethodScopes = scopes
	}
	if o.AddPkpEthAddressAsPermittedAddress != nil {
		req.AddPkpEthAddressAsPermittedAddress = *o.AddPkpEthAddressAsPermittedAddress
	}
	if o.SendPkpToItself != nil {
		req.SendPkpToItself = *o.SendPkpToItself
	}
	if o.BurnPkp != nil {
		req.BurnPkp = *o.BurnPkp
	}
	if o.SendToAddressAfterMinting != nil {
		req.SendToAddressAfterMinting = *o.SendToAddressAfterMinting
	}
	if o.PkpEthAddressScopes != nil {
		scopes := make([]string, len(o.PkpEthAddressScopes))
		for i, s := range o.PkpEthAddressScopes {
			scopes[i] = string(s)
		}
		req.PkpEthAddressScopes = scopes
	}

	n := len(req.PermittedAuthMethodTypes)
	if len(req.PermittedAuthMethodIDs) != n || len(req.PermittedAuthMethodPubkeys) != n || len(req.PermittedAuthMethodScopes) != n {
		return MintRequest{}, apperr.Validation(
			"permitted auth method arrays differ in length: types=%d ids=%d pubkeys=%d scopes=%d",
			n, len(req.PermittedAuthMethodIDs), len(req.PermittedAuthMethodPubkeys), len(req.PermittedAuthMethodScopes),
		)
	}
	return req, nil
}

func numeric(field string, n Numeric) (*big.Int, error) {
	v, ok := n.Int()
	if !ok {
		return nil, apperr.Validation("%s: %q is not an unsigned integer", field, string(n))
	}
	return v, nil
}

func numerics(field string, in []Numeric) ([]*big.Int, error) {
	out := make([]*big.Int, len(in))
	for i, n := range in {
		v, err := numeric(field, n)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func decodeHex(field, s string) ([]byte, error) {
	if s == "0x" {
		return []byte{}, nil
	}
	b, err := hexutil.Decode(s)
	if err != nil {
		return nil, apperr.New(apperr.KindValidation, field+" is not hex", err)
	}
	return b, nil
}

func decodeHexList(field string, in []string) ([][]byte, error) {
	out := make([][]byte, len(in))
	for i, s := range in {
		b, err := decodeHex(field, s)
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}
