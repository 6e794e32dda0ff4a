package capacity

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

const (
	recapPrefix = "urn:recap:"
	// rateLimitScheme prefixes the resource key of a capacity allowance.
	rateLimitScheme = "lit-ratelimitincrease://"
	abilityAuth     = "Auth/Auth"
)

// Restriction narrows an ability to specific tokens, uses and delegatees.
type Restriction struct {
	NFTID      []string `json:"nft_id"`
	Uses       string   `json:"uses"`
	DelegateTo []string `json:"delegate_to"`
}

// Recap is an EIP-5573 capability object. Att maps a resource to its
// abilities, each with a list of restrictions.
type Recap struct {
	Att map[string]map[string][]Restriction `json:"att"`
	Prf []string                            `json:"prf"`
}

func newCapacityRecap(allowanceID, uses string, delegatees []string) Recap {
	return Recap{
		Att: map[string]map[string][]Restriction{
			rateLimitScheme + allowanceID: {
				abilityAuth: {{NFTID: []string{allowanceID}, Uses: uses, DelegateTo: delegatees}},
			},
		},
		Prf: []string{},
	}
}

// URN encodes r as a urn:recap: resource.
func (r Recap) URN() (string, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return recapPrefix + base64.RawURLEncoding.EncodeToString(raw), nil
}

// Statement renders the human readable authorization line ReCap appends to
// the sign-in statement.
func (r Recap) Statement() string {
	resources := make([]string, 0, len(r.Att))
	for res := range r.Att {
		resources = append(resources, res)
	}
	sort.Strings(resources)

	var parts []string
	n := 1
	for _, res := range resources {
		abilities := make([]string, 0, len(r.Att[res]))
		for ab := range r.Att[res] {
			abilities = append(abilities, ab)
		}
		sort.Strings(abilities)
		quoted := make([]string, len(abilities))
		for i, ab := range abilities {
			ns, name, _ := strings.Cut(ab, "/")
			quoted[i] = fmt.Sprintf("'%s': '%s'", ns, name)
		}
		parts = append(parts, fmt.Sprintf("(%d) %s for '%s'.", n, strings.Join(quoted, ", "), res))
		n++
	}
	return "I further authorize the stated URI to perform the following actions on my behalf: " + strings.Join(parts, " ")
}

// ParseRecapURN decodes a urn:recap: resource.
func ParseRecapURN(urn string) (Recap, error) {
	if !strings.HasPrefix(urn, recapPrefix) {
		return Recap{}, fmt.Errorf("recap: not a recap urn")
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(strings.TrimPrefix(urn, recapPrefix), "="))
	if err != nil {
		return Recap{}, fmt.Errorf("recap: decode: %w", err)
	}
	var r Recap
	if err := json.Unmarshal(raw, &r); err != nil {
		return Recap{}, fmt.Errorf("recap: unmarshal: %w", err)
	}
	return r, nil
}
