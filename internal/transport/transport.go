// Package transport builds the authenticated HTTP clients protocol clients
// talk through: fixed timeouts, no redirects, a URI guard and at most one
// authentication strategy taken from the data source properties.
package transport

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/klauspost/compress/gzhttp"

	"github.com/yairfalse/directquery/internal/guard"
	"github.com/yairfalse/directquery/internal/telemetry"
	"github.com/yairfalse/directquery/pkg/datasource"
)

const (
	// ConnectTimeout bounds establishing a connection.
	ConnectTimeout = 30 * time.Second

	// CallTimeout bounds a whole request including reading the body.
	CallTimeout = 60 * time.Second
)

// Network is the capability to open outbound connections. Builders never dial
// on their own; callers decide which network access to grant.
type Network interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// DirectNetwork grants plain dialing through the host network stack.
func DirectNetwork() Network {
	return &net.Dialer{Timeout: ConnectTimeout, KeepAlive: 30 * time.Second}
}

// Pool is the connection pool shared by every client built on one network
// and guard. Clients built from the same Pool reuse keep-alive connections;
// only the auth and guard layers are per client. Safe for concurrent use.
type Pool struct {
	guard *guard.Guard
	base  *http.Transport
}

// NewPool dials through network and checks every connected address against
// g. A nil network grants no access: Build refuses the pool.
func NewPool(network Network, g *guard.Guard) *Pool {
	p := &Pool{guard: g}
	if network == nil {
		return p
	}
	p.base = &http.Transport{
		DialContext:           guardedDialer(network, g),
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return p
}

// CloseIdleConnections closes connections sitting idle in the pool.
func (p *Pool) CloseIdleConnections() {
	if p != nil && p.base != nil {
		p.base.CloseIdleConnections()
	}
}

// Options configures Build.
type Options struct {
	// Prefix selects the property namespace, e.g. "prometheus" for
	// prometheus.auth.type.
	Prefix string

	// Pool carries network access and the guard. Required.
	Pool *Pool

	Logger *telemetry.Logger
}

// Build returns an HTTP client for the data source properties.
func Build(ctx context.Context, props map[string]string, opts Options) (*http.Client, error) {
	if opts.Pool == nil || opts.Pool.base == nil {
		return nil, fmt.Errorf("build http client: network access not granted")
	}
	logger := telemetry.OrNop(opts.Logger)
	g := opts.Pool.guard

	auth, err := ParseAuth(props, opts.Prefix)
	if err != nil {
		return nil, err
	}

	var rt http.RoundTripper = gzhttp.Transport(opts.Pool.base)

	switch auth.Type {
	case AuthBasic:
		rt = &basicAuthRoundTripper{next: rt, username: auth.Username, password: auth.Password}
	case AuthSigV4:
		rt, err = newSigV4RoundTripper(ctx, rt, auth)
		if err != nil {
			return nil, err
		}
	}

	if !g.Empty() {
		rt = &guardRoundTripper{next: rt, guard: g}
	}

	logger.Debug().
		Str("prefix", opts.Prefix).
		Str("auth_type", string(auth.Type)).
		Bool("guarded", !g.Empty()).
		Msg("built http client")

	return &http.Client{
		Transport: rt,
		Timeout:   CallTimeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}, nil
}

// guardedDialer enforces the connect timeout and checks the address the
// connection actually reached, which catches hostnames resolving into
// deny-listed ranges.
func guardedDialer(network Network, g *guard.Guard) func(context.Context, string, string) (net.Conn, error) {
	return func(ctx context.Context, netw, address string) (net.Conn, error) {
		dialCtx, cancel := context.WithTimeout(ctx, ConnectTimeout)
		defer cancel()

		conn, err := network.DialContext(dialCtx, netw, address)
		if err != nil {
			return nil, err
		}

		if tcp, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
			if err := g.CheckAddr(tcp.AddrPort().Addr()); err != nil {
				_ = conn.Close()
				return nil, fmt.Errorf("dial %s: %w", address, err)
			}
		}
		return conn, nil
	}
}

type guardRoundTripper struct {
	next  http.RoundTripper
	guard *guard.Guard
}

func (t *guardRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.guard.Check(req.Context(), req.URL); err != nil {
		return nil, err
	}
	return t.next.RoundTrip(req)
}

// basicAuthRoundTripper injects basic credentials into every outgoing request.
type basicAuthRoundTripper struct {
	next     http.RoundTripper
	username string
	password string
}

func (t *basicAuthRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.SetBasicAuth(t.username, t.password)
	return t.next.RoundTrip(req)
}

// AuthType names an authentication strategy.
type AuthType string

const (
	AuthNone  AuthType = ""
	AuthBasic AuthType = "basicauth"
	AuthSigV4 AuthType = "awssigv4auth"
)

// SigV4Service is the signing namespace of Amazon Managed Service for Prometheus.
const SigV4Service = "aps"

// AuthConfig is derived from data source properties at build time and never stored.
type AuthConfig struct {
	Type AuthType

	Username string
	Password string

	AccessKey string
	SecretKey string
	Region    string
	Service   string
}

// ParseAuth reads <prefix>.auth.* properties.
func ParseAuth(props map[string]string, prefix string) (AuthConfig, error) {
	get := func(key string) string {
		return strings.TrimSpace(props[prefix+".auth."+key])
	}

	raw := get("type")
	switch strings.ToLower(raw) {
	case "":
		return AuthConfig{Type: AuthNone}, nil
	case "basicauth", "basic":
		return AuthConfig{
			Type:     AuthBasic,
			Username: get("username"),
			Password: props[prefix+".auth.password"],
		}, nil
	case "awssigv4auth", "awssigv4", "sigv4":
		return AuthConfig{
			Type:      AuthSigV4,
			AccessKey: get("access_key"),
			SecretKey: get("secret_key"),
			Region:    get("region"),
			Service:   SigV4Service,
		}, nil
	default:
		return AuthConfig{}, datasource.Configuration("auth type %s is not supported", raw)
	}
}
