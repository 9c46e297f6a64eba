package proxy

import (
	"strings"

	"github.com/gobwas/glob"
)

// matchHost reports whether address (a "host:port" CONNECT authority or a
// bare host) matches any pattern in hosts. A pattern may be an exact
// "host:port", a bare host (matches any port), or a "*.suffix" wildcard,
// optionally with its own ":port" suffix.
//
// Grounded on denisvmedia/go-mitmproxy's internal/helper.MatchHost — whose behavior this
// reconstructs from internal/helper/host_test.go, since the implementation
// file was not part of the retrieved pack — generalized from net/url glob
// matching to github.com/gobwas/glob so a single compiled pattern form
// handles the wildcard case instead of hand-rolled prefix checks.
func matchHost(address string, hosts []string) bool {
	host, port := splitHostPort(address)
	for _, pattern := range hosts {
		pHost, pPort := splitHostPort(pattern)
		if pPort != "" && pPort != port {
			continue
		}
		if matchHostPattern(pHost, host) {
			return true
		}
	}
	return false
}

func matchHostPattern(pattern, host string) bool {
	if pattern == host {
		return true
	}
	if !strings.Contains(pattern, "*") {
		return false
	}
	g, err := glob.Compile(pattern, '.')
	if err != nil {
		return false
	}
	return g.Match(host)
}

// splitHostPort splits "host:port" into its parts; addresses with no colon
// are returned with an empty port. IPv6 literals aren't a concern here:
// CONNECT authorities are always "host:port" per §4.1.
func splitHostPort(s string) (host, port string) {
	if i := strings.LastIndex(s, ":"); i >= 0 {
		return s[:i], s[i+1:]
	}
	return s, ""
}
