package capacity

import (
	"strconv"
	"strings"

	"github.com/congo-pay/pkp-relay/internal/apperr"
	"github.com/congo-pay/pkp-relay/internal/auth"
)

// Decode verifies a delegation AuthSig and reads back the allowance,
// delegatees, uses and validity window it grants.
func Decode(sig auth.AuthSig) (Authorization, error) {
	if _, err := auth.Verify(sig); err != nil {
		return Authorization{}, err
	}
	msg, err := ParseMessage(sig.SignedMessage)
	if err != nil {
		return Authorization{}, apperr.New(apperr.KindValidation, "parse delegation message", err)
	}

	var rc Recap
	found := false
	for _, u := range msg.GetResources() {
		res := u.String()
		if strings.HasPrefix(res, recapPrefix) {
			if rc, err = ParseRecapURN(res); err != nil {
				return Authorization{}, apperr.New(apperr.KindValidation, "parse delegation recap", err)
			}
			found = true
			break
		}
	}
	if !found {
		return Authorization{}, apperr.Validation("delegation carries no recap resource")
	}

	for resource, abilities := range rc.Att {
		if !strings.HasPrefix(resource, rateLimitScheme) {
			continue
		}
		restrictions := abilities[abilityAuth]
		if len(restrictions) == 0 {
			continue
		}
		r := restrictions[0]
		uses, err := strconv.Atoi(r.Uses)
		if err != nil {
			return Authorization{}, apperr.New(apperr.KindValidation, "delegation uses", err)
		}
		delegatees := make([]string, 0, len(r.DelegateTo))
		for _, d := range r.DelegateTo {
			if _, ok := delegateeHex("0x" + d); !ok {
				return Authorization{}, apperr.Validation("delegatee %q is not hex", d)
			}
			delegatees = append(delegatees, "0x"+d)
		}
		issuedAt, expiresAt, err := messageWindow(msg)
		if err != nil {
			return Authorization{}, apperr.New(apperr.KindValidation, "delegation validity window", err)
		}
		return Authorization{
			AuthSig:     sig,
			AllowanceID: strings.TrimPrefix(resource, rateLimitScheme),
			Delegatees:  delegatees,
			Uses:        uses,
			IssuedAt:    issuedAt,
			ExpiresAt:   expiresAt,
		}, nil
	}
	return Authorization{}, apperr.Validation("delegation grants no capacity allowance")
}
