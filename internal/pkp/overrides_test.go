package pkp

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/congo-pay/pkp-relay/internal/apperr"
)

func TestValidateOverrides(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		ok   bool
	}{
		{name: "empty", raw: `{}`, ok: true},
		{name: "numeric key type", raw: `{"keyType": 2}`, ok: true},
		{name: "string key type", raw: `{"keyType": "2"}`, ok: true},
		{name: "hex key type", raw: `{"keyType": "0x02"}`, ok: true},
		{name: "non numeric key type", raw: `{"keyType": "two"}`},
		{name: "fractional key type", raw: `{"keyType": 2.5}`},
		{name: "scopes", raw: `{"permittedAuthMethodScopes": [["1", "2"], [3]]}`, ok: true},
		{name: "non numeric scope", raw: `{"permittedAuthMethodScopes": [["sign"]]}`},
		{name: "negative scope", raw: `{"permittedAuthMethodScopes": [["-1"]]}`},
		{name: "pkp scopes", raw: `{"pkpEthAddressScopes": ["1"]}`, ok: true},
		{name: "bad pkp scopes", raw: `{"pkpEthAddressScopes": ["x"]}`},
		{name: "auth method ids", raw: `{"permittedAuthMethodIds": ["0xdeadbeef"]}`, ok: true},
		{name: "odd hex id", raw: `{"permittedAuthMethodIds": ["0xabc"]}`},
		{name: "unprefixed pubkey", raw: `{"permittedAuthMethodPubkeys": ["abcd"]}`},
		{name: "empty pubkey", raw: `{"permittedAuthMethodPubkeys": ["0x"]}`, ok: true},
		{name: "send to address", raw: `{"sendToAddressAfterMinting": "0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf"}`, ok: true},
		{name: "send to unset", raw: `{"sendToAddressAfterMinting": "0x"}`, ok: true},
		{name: "send to garbage", raw: `{"sendToAddressAfterMinting": "0xD00D"}`},
		{name: "auth method types", raw: `{"permittedAuthMethodTypes": [1, "2"]}`, ok: true},
		{name: "bad auth method type", raw: `{"permittedAuthMethodTypes": ["google"]}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var o Overrides
			if err := json.Unmarshal([]byte(tc.raw), &o); err != nil {
				t.Fatalf("decode: %v", err)
			}
			err := ValidateOverrides(o)
			if tc.ok && err != nil {
				t.Fatalf("expected valid, got %v", err)
			}
			if !tc.ok && !errors.Is(err, apperr.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestNumericRejectsNonScalars(t *testing.T) {
	var n Numeric
	if err := json.Unmarshal([]byte(`[1]`), &n); err == nil {
		t.Fatalf("expected array to be rejected")
	}
	if err := json.Unmarshal([]byte(`true`), &n); err == nil {
		t.Fatalf("expected bool to be rejected")
	}
}
