// Package paymail resolves Paymail handles (alias@domain) to BSV addresses.
//
// Resolution follows the bsvalias protocol: the host is located through the
// _bsvalias._tcp SRV record (falling back to the domain itself), capabilities
// are read from /.well-known/bsvalias, and the address comes from the
// paymentDestination capability or, failing that, the PKI public key.
package paymail

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidPaymail indicates a string is not of the form alias@domain.
var ErrInvalidPaymail = errors.New("paymail: invalid paymail address")

// Address is a parsed paymail handle.
type Address struct {
	Alias  string
	Domain string
}

// String returns alias@domain.
func (a Address) String() string { return a.Alias + "@" + a.Domain }

// IsPaymail reports whether s looks like alias@domain. It does not validate
// the parts; use Parse for that.
func IsPaymail(s string) bool {
	return strings.Contains(s, "@")
}

// Parse splits and normalises a paymail handle. The alias and domain are
// lower-cased and a leading "$" (HandCash handle notation) is dropped.
func Parse(s string) (Address, error) {
	s = strings.TrimSpace(s)
	at := strings.LastIndex(s, "@")
	if at <= 0 || at == len(s)-1 {
		return Address{}, fmt.Errorf("%w: %q", ErrInvalidPaymail, s)
	}
	alias := strings.ToLower(strings.TrimPrefix(s[:at], "$"))
	domain := strings.ToLower(strings.TrimSuffix(s[at+1:], "."))
	if alias == "" || strings.ContainsAny(alias, " /@") {
		return Address{}, fmt.Errorf("%w: bad alias in %q", ErrInvalidPaymail, s)
	}
	if !strings.Contains(domain, ".") || strings.ContainsAny(domain, " /") {
		return Address{}, fmt.Errorf("%w: bad domain in %q", ErrInvalidPaymail, s)
	}
	return Address{Alias: alias, Domain: domain}, nil
}
