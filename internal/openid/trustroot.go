package openid

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// TrustRoot is a parsed realm: the URL pattern a relying party claims
type TrustRoot struct {
	raw      string
	scheme   string
	host     string
	port     string
	path     string
	wildcard bool
}

// ParseTrustRoot validates and parses a realm such as https://*.example.com/app/
func ParseTrustRoot(s string) (*TrustRoot, error) {
	u, err := url.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("malformed trust root %q: %w", s, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("trust root %q must be http or https", s)
	}
	if u.Fragment != "" || strings.Contains(s, "#") {
		return nil, fmt.Errorf("trust root %q must not contain a fragment", s)
	}
	if u.User != nil {
		return nil, fmt.Errorf("trust root %q must not contain credentials", s)
	}

	tr := &TrustRoot{raw: s, scheme: u.Scheme}

	host := strings.ToLower(u.Hostname())
	if strings.HasPrefix(host, "*.") {
		tr.wildcard = true
		host = strings.TrimPrefix(host, "*.")
	} else if host == "*" {
		tr.wildcard = true
		host = ""
	}
	if strings.Contains(host, "*") {
		return nil, fmt.Errorf("trust root %q has a misplaced wildcard", s)
	}
	if host == "" && !tr.wildcard {
		return nil, fmt.Errorf("trust root %q has no host", s)
	}
	tr.host = host

	tr.port = u.Port()
	if tr.port == "" {
		tr.port = defaultPort(u.Scheme)
	}

	tr.path = u.EscapedPath()
	if tr.path == "" {
		tr.path = "/"
	}
	return tr, nil
}

func defaultPort(scheme string) string {
	if scheme == "https" {
		return "443"
	}
	return "80"
}

// String returns the realm as given
func (tr *TrustRoot) String() string {
	return tr.raw
}

// Host returns the lowercase host with any wildcard label removed
func (tr *TrustRoot) Host() string {
	return tr.host
}

// Wildcard reports whether the realm matches subdomains
func (tr *TrustRoot) Wildcard() bool {
	return tr.wildcard
}

// IsSane reports whether the realm is narrow enough to show a user without
// a warning. Wildcards over a bare top-level domain are not.
func (tr *TrustRoot) IsSane() bool {
	if tr.host == "localhost" {
		return true
	}
	if net.ParseIP(tr.host) != nil {
		return !tr.wildcard
	}
	labels := strings.Split(strings.Trim(tr.host, "."), ".")
	if tr.wildcard {
		return len(labels) >= 2 && labels[0] != ""
	}
	return labels[0] != ""
}

// Validate reports whether returnTo falls under this realm
func (tr *TrustRoot) Validate(returnTo string) bool {
	u, err := url.Parse(returnTo)
	if err != nil || u.Fragment != "" {
		return false
	}
	if u.Scheme != tr.scheme {
		return false
	}

	port := u.Port()
	if port == "" {
		port = defaultPort(u.Scheme)
	}
	if port != tr.port {
		return false
	}

	host := strings.ToLower(u.Hostname())
	if tr.wildcard {
		if tr.host != "" && host != tr.host && !strings.HasSuffix(host, "."+tr.host) {
			return false
		}
	} else if host != tr.host {
		return false
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if path == tr.path {
		return true
	}
	if !strings.HasPrefix(path, tr.path) {
		return false
	}
	return strings.HasSuffix(tr.path, "/") || path[len(tr.path)] == '/'
}
