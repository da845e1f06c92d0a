package addrutil

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Endpoint is a normalized pop3/pop3s host:port pair, the form the
// "external" inbox validation consumes.
type Endpoint struct {
	Original, Scheme, Host, Port string
}

func (e Endpoint) String() string {
	scheme := e.Scheme
	if scheme == "" {
		scheme = "pop3"
	}
	return fmt.Sprintf("%s://%s:%s", scheme, e.Host, e.Port)
}

// TLS reports whether the endpoint implies implicit TLS (pop3s, or an
// explicit port of 995 with no scheme given).
func (e Endpoint) TLS() bool {
	if e.Scheme == "pop3s" {
		return true
	}
	if e.Scheme == "" && e.Port == "995" {
		return true
	}
	return false
}

// ParseEndpoint parses a "host", "host:port" or "pop3[s]://host[:port]"
// string into a normalized Endpoint, defaulting the port from the scheme
// (110 for pop3, 995 for pop3s) when omitted.
func ParseEndpoint(str string) (Endpoint, error) {
	input := str

	if !strings.Contains(str, "//") && !strings.HasPrefix(str, "/") {
		str = "//" + str
	}
	u, err := url.Parse(str)
	if err != nil {
		return Endpoint{}, fmt.Errorf("addrutil: invalid endpoint %q: %w", input, err)
	}

	host, port, err := net.SplitHostPort(u.Host)
	if err != nil {
		host, port, err = net.SplitHostPort(u.Host + ":")
		if err != nil {
			host = u.Host
		}
	}
	if host == "" {
		return Endpoint{}, fmt.Errorf("addrutil: endpoint %q has no host", input)
	}

	switch u.Scheme {
	case "", "pop3", "pop3s":
	default:
		return Endpoint{}, fmt.Errorf("addrutil: unsupported scheme %q in %q", u.Scheme, input)
	}

	if port == "" {
		switch u.Scheme {
		case "pop3s":
			port = "995"
		default:
			port = "110"
		}
	}

	return Endpoint{Original: input, Scheme: u.Scheme, Host: host, Port: port}, nil
}

// IsLoopbackOrPrivate reports whether host is a literal loopback,
// link-local, private or unspecified IP address, or the name
// "localhost"; no DNS resolution is done — used by the SSRF guard that
// rejects external-inbox POP3 hosts pointed at internal infrastructure
// in production environments (§8 scenario S3).
func IsLoopbackOrPrivate(host string) bool {
	ip := net.ParseIP(host)
	if ip == nil {
		// Hostnames (not literal IPs) are allowed through; DNS-level
		// SSRF protection is the concern of the outbound POP3 dialer,
		// not address parsing.
		return strings.EqualFold(host, "localhost")
	}
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified()
}
