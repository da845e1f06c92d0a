package addrutil

import (
	"errors"

	"golang.org/x/net/idna"
)

// ErrUnicodeMailbox is returned by ToASCII when the local-part of the
// address contains non-ASCII characters, which cannot be represented in
// the A-label (punycode) form of the address.
var ErrUnicodeMailbox = errors.New("addrutil: can not convert the Unicode local-part to the ACE form")

// ToASCII converts the domain part of an email address to its A-label
// (punycode) form, rejecting a non-ASCII local-part with
// ErrUnicodeMailbox. RCPT TO recipients are normalized with ForLookup,
// not with this function.
func ToASCII(addr string) (string, error) {
	mbox, domain, err := Split(addr)
	if err != nil {
		return addr, err
	}

	aDomain, err := idna.ToASCII(domain)
	if err != nil {
		return addr, err
	}

	for _, ch := range mbox {
		if ch > 127 {
			return addr, ErrUnicodeMailbox
		}
	}

	return mbox + "@" + aDomain, nil
}

// DomainASCII normalizes a bare domain (no local-part) to its A-label form.
func DomainASCII(domain string) (string, error) {
	return idna.ToASCII(domain)
}
