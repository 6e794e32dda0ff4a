package capacity

import (
	"fmt"
	"net/url"
	"time"

	"github.com/spruceid/siwe-go"
)

const (
	siweVersion = "1"
	// siweTimeLayout matches JavaScript's Date.toISOString.
	siweTimeLayout = "2006-01-02T15:04:05.000Z07:00"
)

// delegation describes the sign-in message a capacity delegation is signed over.
type delegation struct {
	Address   string
	Nonce     string
	Statement string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Resources []string
}

// message builds the EIP-4361 message for d.
func (d delegation) message() (*siwe.Message, error) {
	resources := make([]url.URL, 0, len(d.Resources))
	for _, r := range d.Resources {
		u, err := url.Parse(r)
		if err != nil {
			return nil, fmt.Errorf("siwe resource %q: %w", r, err)
		}
		resources = append(resources, *u)
	}
	return siwe.InitMessage(delegationDomain, d.Address, delegationURI, d.Nonce, map[string]interface{}{
		"statement":      d.Statement,
		"chainId":        delegationChain,
		"issuedAt":       d.IssuedAt.UTC().Format(siweTimeLayout),
		"expirationTime": d.ExpiresAt.UTC().Format(siweTimeLayout),
		"resources":      resources,
	})
}

// ParseMessage reads an EIP-4361 message from its signed text form.
func ParseMessage(text string) (*siwe.Message, error) {
	msg, err := siwe.ParseMessage(text)
	if err != nil {
		return nil, fmt.Errorf("siwe: %w", err)
	}
	if msg.GetVersion() != siweVersion {
		return nil, fmt.Errorf("siwe: unsupported version %q", msg.GetVersion())
	}
	return msg, nil
}

// messageWindow returns the issued-at and expiration times of msg. A message
// without an expiration yields a zero expiry.
func messageWindow(msg *siwe.Message) (issuedAt, expiresAt time.Time, err error) {
	issuedAt, err = time.Parse(time.RFC3339, msg.GetIssuedAt())
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("siwe issued at: %w", err)
	}
	if exp := msg.GetExpirationTime(); exp != nil {
		expiresAt, err = time.Parse(time.RFC3339, *exp)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("siwe expiration time: %w", err)
		}
	}
	return issuedAt, expiresAt, nil
}
