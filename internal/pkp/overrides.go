package pkp

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"reflect"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"

	"github.com/congo-pay/pkp-relay/internal/apperr"
)

// unsetAddress is the placeholder for "no forwarding address".
const unsetAddress = "0x"

var (
	hexBytesPattern = regexp.MustCompile(`^0x([0-9a-fA-F]{2})*$`)
	decimalPattern  = regexp.MustCompile(`^[0-9]+$`)
	maxUint256      = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
)

// Numeric is an integer supplied either as a JSON number or as a string.
// The raw text is kept so validation can report what the caller sent.
type Numeric string

// UnmarshalJSON accepts 7, "7" and "0x07".
func (n *Numeric) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*n = Numeric(s)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return fmt.Errorf("numeric value must be a number or string: %w", err)
	}
	*n = Numeric(num.String())
	return nil
}

// Int parses n as a decimal or 0x-prefixed unsigned integer.
func (n Numeric) Int() (*big.Int, bool) {
	return parseUint256(string(n))
}

// Overrides are the optional caller-supplied mint arguments. Nil fields keep
// the defaults.
type Overrides struct {
	KeyType                            *Numeric    `json:"keyType,omitempty" validate:"omitempty,uint256"`
	PermittedAuthMethodTypes           []Numeric   `json:"permittedAuthMethodTypes,omitempty" validate:"omitempty,dive,uint256"`
	PermittedAuthMethodIDs             []string    `json:"permittedAuthMethodIds,omitempty" validate:"omitempty,dive,hex_bytes"`
	PermittedAuthMethodPubkeys         []string    `json:"permittedAuthMethodPubkeys,omitempty" validate:"omitempty,dive,hex_bytes"`
	PermittedAuthMethodScopes          [][]Numeric `json:"permittedAuthMethodScopes,omitempty" validate:"omitempty,dive,dive,uint256"`
	AddPkpEthAddressAsPermittedAddress *bool       `json:"addPkpEthAddressAsPermittedAddress,omitempty"`
	SendPkpToItself                    *bool       `json:"sendPkpToItself,omitempty"`
	BurnPkp                            *bool       `json:"burnPkp,omitempty"`
	SendToAddressAfterMinting          *string     `json:"sendToAddressAfterMinting,omitempty" validate:"omitempty,eth_addr_or_unset"`
	PkpEthAddressScopes                []Numeric   `json:"pkpEthAddressScopes,omitempty" validate:"omitempty,dive,uint256"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	mustRegister(v, "uint256", func(fl validator.FieldLevel) bool {
		_, ok := parseUint256(fl.Field().String())
		return ok
	})
	mustRegister(v, "hex_bytes", func(fl validator.FieldLevel) bool {
		return hexBytesPattern.MatchString(fl.Field().String())
	})
	mustRegister(v, "eth_addr_or_unset", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		return s == unsetAddress || (strings.HasPrefix(s, "0x") && common.IsHexAddress(s))
	})
	return v
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(err)
	}
}

// ValidateOverrides checks the structure of caller overrides. It does not look
// at cross-field array lengths; RequestBuilder does that after merging.
func ValidateOverrides(o Overrides) error {
	err := validate.Struct(o)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.New(apperr.KindValidation, "invalid mint options", err)
	}
	reasons := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		reasons = append(reasons, fmt.Sprintf("%s: failed %s (got %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return apperr.Validation("invalid mint options: %s", strings.Join(reasons, "; "))
}

func parseUint256(s string) (*big.Int, bool) {
	s = strings.TrimSpace(s)
	var (
		v  *big.Int
		ok bool
	)
	switch {
	case strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X"):
		if len(s) == 2 {
			return nil, false
		}
		v, ok = new(big.Int).SetString(s[2:], 16)
	case decimalPattern.MatchString(s):
		v, ok = new(big.Int).SetString(s, 10)
	}
	if !ok || v.Sign() < 0 || v.Cmp(maxUint256) > 0 {
		return nil, false
	}
	return v, true
}
