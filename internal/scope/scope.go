package scope

import (
	"strings"
)

// defaultDenylist blocks recursive discovery from wandering into high-traffic
// third-party platforms. Links to these hosts are near-certain to be
// off-target noise in a response body.
var defaultDenylist = []string{
	"twitter.com",
	"x.com",
	"facebook.com",
	"instagram.com",
	"linkedin.com",
	"youtube.com",
	"wikipedia.org",
	"github.com",
	"apple.com",
	"google.com",
	"microsoft.com",
	"cdn.prod.website-files.com",
}

// Guard decides whether a discovered host may be admitted into the inventory.
// It is pure decision logic: no I/O, no store access. The caller supplies the
// live authorized-domain projection on each check.
type Guard struct {
	denylist []string
}

func NewGuard() *Guard {
	return &Guard{denylist: defaultDenylist}
}

// NewGuardWithDenylist is used by tests and by operators who maintain their
// own noise list.
func NewGuardWithDenylist(denylist []string) *Guard {
	return &Guard{denylist: denylist}
}

// IsDenied reports whether the host matches the deny-list. Matching is
// case-insensitive and substring-based, so "sub.github.com" and
// "github.com.evil.example" are both rejected; erring toward rejection is the
// safe direction for discovery noise.
func (g *Guard) IsDenied(host string) bool {
	lower := strings.ToLower(host)
	for _, d := range g.denylist {
		if strings.Contains(lower, d) {
			return true
		}
	}
	return false
}

// IsAuthorized reports whether host equals, or is a dot-suffixed subdomain
// of, any authorized domain.
func (g *Guard) IsAuthorized(host string, authorized map[string]struct{}) bool {
	for d := range authorized {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// IsInScope applies the full admit/reject decision: deny-list first, then the
// authorized-domain check. Depth is the caller's concern, not the guard's.
func (g *Guard) IsInScope(host string, authorized map[string]struct{}) bool {
	if g.IsDenied(host) {
		return false
	}
	return g.IsAuthorized(host, authorized)
}
