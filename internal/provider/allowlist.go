package provider

import (
	"net"
	"strings"

	"github.com/eldarion/identeco/internal/openid"
)

// Allowlist is the static set of relying-party hosts trusted without asking.
// An entry of the form "*.example.com" covers example.com and every subdomain;
// a bare entry covers only that host.
type Allowlist struct {
	hosts     map[string]bool
	wildcards map[string]bool
}

// NewAllowlist normalizes entries: lowercase, no scheme, no port, no path
func NewAllowlist(entries []string) *Allowlist {
	a := &Allowlist{hosts: make(map[string]bool), wildcards: make(map[string]bool)}
	for _, e := range entries {
		host, wildcard := normalizeEntry(e)
		switch {
		case host == "":
		case wildcard:
			a.wildcards[host] = true
		default:
			a.hosts[host] = true
		}
	}
	return a
}

func normalizeEntry(h string) (string, bool) {
	h = strings.ToLower(strings.TrimSpace(h))
	if i := strings.Index(h, "://"); i >= 0 {
		h = h[i+3:]
	}
	if i := strings.IndexByte(h, '/'); i >= 0 {
		h = h[:i]
	}
	if host, _, err := net.SplitHostPort(h); err == nil {
		h = host
	}
	wildcard := strings.HasPrefix(h, "*.")
	h = strings.TrimSuffix(strings.TrimPrefix(h, "*."), ".")
	if strings.Contains(h, "*") {
		return "", false
	}
	return h, wildcard
}

// Trusts reports whether realm is covered by the allowlist. A wildcard realm
// needs a wildcard entry at or above its host; realms that are not sane are
// never trusted.
func (a *Allowlist) Trusts(realm string) bool {
	if a == nil || a.Len() == 0 {
		return false
	}
	tr, err := openid.ParseTrustRoot(realm)
	if err != nil || tr.Host() == "" || !tr.IsSane() {
		return false
	}
	host := tr.Host()
	if !tr.Wildcard() && a.hosts[host] {
		return true
	}
	for suffix := range a.wildcards {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}

// Len returns the number of entries
func (a *Allowlist) Len() int {
	if a == nil {
		return 0
	}
	return len(a.hosts) + len(a.wildcards)
}
