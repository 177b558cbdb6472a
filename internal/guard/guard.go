// Package guard decides whether outbound data source requests may reach a URI.
//
// Deny list entries are glob host patterns ("*.internal"), IP addresses or CIDR
// ranges. Host patterns are matched against the request URI; IP entries are
// matched against IP-literal hosts and, through CheckAddr, against the address a
// connection actually reached. An optional Rego policy gets the final word.
package guard

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"net/url"
	"strings"

	"github.com/gobwas/glob"
	"github.com/open-policy-agent/opa/v1/rego"
)

// ErrDisallowedHost is returned for every refused URI or address.
var ErrDisallowedHost = errors.New("disallowed hostname in the uri")

// PolicyQuery is the Rego rule a URI policy must define.
const PolicyQuery = "data.directquery.allow"

// Guard checks URIs against a deny list and an optional policy. It is
// immutable after New and safe for concurrent use.
type Guard struct {
	prefixes []netip.Prefix
	hosts    []hostPattern
	policy   *rego.PreparedEvalQuery
}

type hostPattern struct {
	raw string
	g   glob.Glob
}

// PolicyInput is the document a URI policy evaluates.
type PolicyInput struct {
	Scheme string `json:"scheme"`
	Host   string `json:"host"`
	Port   string `json:"port"`
	Path   string `json:"path"`
}

// Option configures a Guard.
type Option func(*options)

type options struct {
	policyName string
	policySrc  string
}

// WithPolicy adds a Rego module that must define data.directquery.allow.
func WithPolicy(name, module string) Option {
	return func(o *options) {
		o.policyName = name
		o.policySrc = module
	}
}

// New builds a guard from deny list entries.
func New(ctx context.Context, denyList []string, opts ...Option) (*Guard, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	g := &Guard{}
	for _, entry := range denyList {
		entry = strings.ToLower(strings.TrimSpace(entry))
		if entry == "" {
			continue
		}
		if err := g.addEntry(entry); err != nil {
			return nil, err
		}
	}

	if o.policySrc != "" {
		prepared, err := rego.New(
			rego.Query(PolicyQuery),
			rego.Module(o.policyName, o.policySrc),
		).PrepareForEval(ctx)
		if err != nil {
			return nil, fmt.Errorf("compile uri policy %s: %w", o.policyName, err)
		}
		g.policy = &prepared
	}

	return g, nil
}

func (g *Guard) addEntry(entry string) error {
	if strings.Contains(entry, "/") {
		prefix, err := netip.ParsePrefix(entry)
		if err != nil {
			return fmt.Errorf("parse deny list entry %q: %w", entry, err)
		}
		g.prefixes = append(g.prefixes, prefix.Masked())
		return nil
	}

	if addr, err := netip.ParseAddr(entry); err == nil {
		addr = addr.Unmap()
		g.prefixes = append(g.prefixes, netip.PrefixFrom(addr, addr.BitLen()))
		return nil
	}

	pattern, err := glob.Compile(entry)
	if err != nil {
		return fmt.Errorf("compile deny list pattern %q: %w", entry, err)
	}
	g.hosts = append(g.hosts, hostPattern{raw: entry, g: pattern})
	return nil
}

// Check refuses u when its host is deny-listed or the policy does not allow it.
func (g *Guard) Check(ctx context.Context, u *url.URL) error {
	if g == nil {
		return nil
	}

	host := strings.ToLower(u.Hostname())
	for _, p := range g.hosts {
		if p.g.Match(host) {
			return fmt.Errorf("%w %s: host matches deny list pattern %q", ErrDisallowedHost, u.Redacted(), p.raw)
		}
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if err := g.CheckAddr(addr); err != nil {
			return fmt.Errorf("%s: %w", u.Redacted(), err)
		}
	}

	if g.policy != nil {
		allowed, err := g.evalPolicy(ctx, u)
		if err != nil {
			return fmt.Errorf("evaluate uri policy for %s: %w", u.Redacted(), err)
		}
		if !allowed {
			return fmt.Errorf("%w %s: refused by uri policy", ErrDisallowedHost, u.Redacted())
		}
	}

	return nil
}

// CheckAddr refuses addresses inside a deny-listed range.
func (g *Guard) CheckAddr(addr netip.Addr) error {
	if g == nil {
		return nil
	}
	addr = addr.Unmap()
	for _, prefix := range g.prefixes {
		if prefix.Contains(addr) {
			return fmt.Errorf("%w: address %s is in deny-listed range %s", ErrDisallowedHost, addr, prefix)
		}
	}
	return nil
}

// Empty reports whether the guard refuses nothing.
func (g *Guard) Empty() bool {
	return g == nil || (len(g.prefixes) == 0 && len(g.hosts) == 0 && g.policy == nil)
}

func (g *Guard) evalPolicy(ctx context.Context, u *url.URL) (bool, error) {
	input := PolicyInput{
		Scheme: u.Scheme,
		Host:   strings.ToLower(u.Hostname()),
		Port:   u.Port(),
		Path:   u.EscapedPath(),
	}
	rs, err := g.policy.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, err
	}
	return rs.Allowed(), nil
}
