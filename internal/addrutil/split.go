// Package addrutil parses and normalizes mailbox addresses used across
// the gateway: splitting RCPT TO forward-paths for the SMTP receiver's
// domain gating, and normalizing host:port endpoints for POP3 settings.
package addrutil

import (
	"errors"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Split splits a email address (as defined by RFC 5321 as a forward-path
// token) into local part (mailbox) and domain.
//
// Note that definition of the forward-path token includes special postmater
// address without the domain part. Split will return domain == "" in this
// case.
//
// Additionally, Split undoes escaping and quoting of local-part.
// That is, for address `"test @ test"@example.org` it will return "test @ test"
// and "example.org".
func Split(addr string) (mailbox, domain string, err error) {
	if strings.EqualFold(addr, "postmaster") {
		return addr, "", nil
	}

	var (
		quoted          bool
		escaped         bool
		terminatedQuote bool
		mailboxB        strings.Builder
	)
mboxLoop:
	for i, ch := range addr {
		if terminatedQuote && ch != '@' {
			return "", "", errors.New("address: closing quote should be right before at-sign")
		}

		switch ch {
		case '"':
			if !escaped {
				quoted = !quoted
				if !quoted {
					terminatedQuote = true
				}
				continue
			}
		case '\\':
			if !escaped {
				if !quoted {
					return "", "", errors.New("address: escapes are allowed only in quoted strings")
				}
				escaped = true
				continue
			}
		case '@':
			if !escaped && !quoted {
				domain = addr[i+1:]
				if strings.Contains(domain, "@") {
					return "", "", errors.New("address: multiple at-signs")
				}
				break mboxLoop
			}
		}

		escaped = false

		mailboxB.WriteRune(ch)
	}

	if mailboxB.Len() == 0 {
		return "", "", errors.New("address: empty local part")
	}
	if domain == "" {
		return "", "", errors.New("address: empty domain part")
	}

	return mailboxB.String(), domain, nil
}

// ForLookup transforms addr into a canonical form suitable for map
// lookups and store comparisons: the domain is converted to its ASCII
// A-label form, and the local-part is NFC-normalized and case-folded.
// If Equal(a, b) is true, ForLookup(a) == ForLookup(b).
//
// On error the case-folded original is returned alongside the error, so
// callers that only need a best-effort key can ignore it.
func ForLookup(addr string) (string, error) {
	mbox, domain, err := Split(addr)
	if err != nil {
		return strings.ToLower(addr), err
	}

	aDomain, err := DomainASCII(domain)
	if err != nil {
		return strings.ToLower(addr), err
	}

	mbox = strings.ToLower(norm.NFC.String(mbox))
	return mbox + "@" + strings.ToLower(aDomain), nil
}

// Equal reports whether addr1 and addr2 are the same mailbox once both
// are run through ForLookup. Malformed addresses fall back to ordinary
// case-insensitive comparison.
func Equal(addr1, addr2 string) bool {
	if strings.EqualFold(addr1, addr2) {
		return true
	}
	a, errA := ForLookup(addr1)
	b, errB := ForLookup(addr2)
	if errA != nil || errB != nil {
		return false
	}
	return a == b
}
