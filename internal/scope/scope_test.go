package scope

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func authorized(domains ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(domains))
	for _, d := range domains {
		m[d] = struct{}{}
	}
	return m
}

func TestGuard_DenylistBeatsAuthorization(t *testing.T) {
	g := NewGuardWithDenylist([]string{"evil-cdn.example"})

	// Even an explicitly authorized host is rejected when denied.
	assert.False(t, g.IsInScope("evil-cdn.example", authorized("evil-cdn.example")))
	assert.False(t, g.IsInScope("assets.evil-cdn.example", authorized("evil-cdn.example")))
}

func TestGuard_DefaultDenylist(t *testing.T) {
	g := NewGuard()

	tests := []struct {
		host   string
		denied bool
	}{
		{"github.com", true},
		{"api.github.com", true},
		{"GITHUB.COM", true},
		{"youtube.com", true},
		{"acme.com", false},
		{"api.acme.com", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.denied, g.IsDenied(tt.host), "host %s", tt.host)
	}
}

func TestGuard_AuthorizedExactAndSubdomain(t *testing.T) {
	g := NewGuard()
	auth := authorized("acme.com")

	assert.True(t, g.IsInScope("acme.com", auth))
	assert.True(t, g.IsInScope("api.acme.com", auth))
	assert.True(t, g.IsInScope("deep.api.acme.com", auth))

	// Suffix without the dot separator must not match.
	assert.False(t, g.IsInScope("notacme.com", auth))
	assert.False(t, g.IsInScope("other.org", auth))
}

func TestGuard_EmptyAuthorizedSetRejectsEverything(t *testing.T) {
	g := NewGuard()
	assert.False(t, g.IsInScope("acme.com", nil))
	assert.False(t, g.IsInScope("acme.com", authorized()))
}
