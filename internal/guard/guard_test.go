package guard

import (
	"context"
	"net/netip"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestCheck_DenyList(t *testing.T) {
	g, err := New(context.Background(), []string{
		"169.254.0.0/16",
		"10.1.2.3",
		"*.internal",
		"metadata.google.com",
	})
	require.NoError(t, err)

	tests := []struct {
		uri    string
		denied bool
	}{
		{"http://169.254.169.254/latest/meta-data", true},
		{"http://10.1.2.3:9090", true},
		{"http://10.1.2.4:9090", false},
		{"https://prom.internal/api/v1/query", true},
		{"https://a.b.INTERNAL", true},
		{"http://metadata.google.com", true},
		{"https://prometheus.example.com", false},
		{"http://[::ffff:169.254.1.1]:80", true},
	}

	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			err := g.Check(context.Background(), mustURL(t, tt.uri))
			if tt.denied {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrDisallowedHost)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCheckAddr(t *testing.T) {
	g, err := New(context.Background(), []string{"127.0.0.0/8", "fd00::/8"})
	require.NoError(t, err)

	assert.ErrorIs(t, g.CheckAddr(netip.MustParseAddr("127.0.0.1")), ErrDisallowedHost)
	assert.ErrorIs(t, g.CheckAddr(netip.MustParseAddr("fd12::1")), ErrDisallowedHost)
	assert.NoError(t, g.CheckAddr(netip.MustParseAddr("192.0.2.10")))
}

func TestNew_InvalidEntry(t *testing.T) {
	_, err := New(context.Background(), []string{"10.0.0.0/40"})
	require.Error(t, err)
}

func TestNilAndEmptyGuard(t *testing.T) {
	var g *Guard
	assert.True(t, g.Empty())
	assert.NoError(t, g.Check(context.Background(), mustURL(t, "http://127.0.0.1")))
	assert.NoError(t, g.CheckAddr(netip.MustParseAddr("127.0.0.1")))

	empty, err := New(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, empty.Empty())
}

func TestCheck_Policy(t *testing.T) {
	policy := `package directquery

import rego.v1

default allow := false

allow if {
	input.scheme == "https"
	endswith(input.host, ".example.com")
}
`
	g, err := New(context.Background(), nil, WithPolicy("uri.rego", policy))
	require.NoError(t, err)
	assert.False(t, g.Empty())

	assert.NoError(t, g.Check(context.Background(), mustURL(t, "https://prom.example.com/api/v1/query")))

	err = g.Check(context.Background(), mustURL(t, "http://prom.example.com"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDisallowedHost)
	assert.Contains(t, err.Error(), "refused by uri policy")

	assert.Error(t, g.Check(context.Background(), mustURL(t, "https://evil.test")))
}

func TestNew_InvalidPolicy(t *testing.T) {
	_, err := New(context.Background(), nil, WithPolicy("bad.rego", "package directquery\nallow if {"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compile uri policy")
}
