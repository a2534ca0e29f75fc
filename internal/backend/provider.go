// Package backend talks to the account-linking backend: starting a provider
// connection, listing linked channels, and SMS verification. Connect
// responses are decoded once, at this boundary, into a closed set of
// variants.
// file: internal/backend/provider.go
package backend

import (
	"strings"

	"github.com/cockroachdb/errors"
)

// Provider identifies an external communication channel a user can link.
type Provider string

// Supported providers.
const (
	WhatsApp  Provider = "whatsapp"
	Gmail     Provider = "gmail"
	Outlook   Provider = "outlook"
	Instagram Provider = "instagram"
	Facebook  Provider = "facebook"
)

// Providers lists every supported provider.
func Providers() []Provider {
	return []Provider{WhatsApp, Gmail, Outlook, Instagram, Facebook}
}

// ParseProvider accepts a provider name in any case.
func ParseProvider(s string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Providers() {
		if p == known {
			return p, nil
		}
	}
	return "", errors.Newf("unknown provider %q", s)
}

// ChannelType is the channel_type a provider's linked account is stored under.
func (p Provider) ChannelType() string {
	switch p {
	case Gmail, Outlook:
		return "email"
	default:
		return string(p)
	}
}

func (p Provider) String() string { return string(p) }
