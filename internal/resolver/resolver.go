// Package resolver maps the reputation service hostnames to fixed addresses
// and supplies the dial hook used by the shared HTTP transport.
//
// The override table starts from configured literal addresses. Bootstrap
// refreshes those literals once at startup by querying upstream nameservers
// directly, falling back to the system resolver; when both fail the literal
// is kept.
package resolver

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"

	"github.com/anstrom/ipprism/internal/logging"
)

// Source reports where an override address came from after Bootstrap.
type Source string

const (
	SourceNameserver Source = "nameserver"
	SourceSystem     Source = "system"
	SourceFallback   Source = "fallback"
)

// HostResult describes the bootstrap outcome for one overridden host.
type HostResult struct {
	Host    string
	Address string
	Source  Source
	Err     error
}

// Exchanger sends a DNS message to a nameserver. *dns.Client implements it.
type Exchanger interface {
	ExchangeContext(ctx context.Context, m *dns.Msg, address string) (*dns.Msg, time.Duration, error)
}

// LookupFunc resolves a hostname through the platform resolver.
type LookupFunc func(ctx context.Context, host string) ([]string, error)

// Resolver holds the override table.
type Resolver struct {
	mu          sync.RWMutex
	overrides   map[string]string
	nameservers []string
	exchanger   Exchanger
	lookup      LookupFunc
	dialer      *net.Dialer
	logger      *logging.Logger
}

// Option customises a Resolver.
type Option func(*Resolver)

// WithNameservers sets the upstream nameservers queried by Bootstrap.
func WithNameservers(servers ...string) Option {
	return func(r *Resolver) { r.nameservers = servers }
}

// WithExchanger replaces the DNS client used by Bootstrap.
func WithExchanger(e Exchanger) Option {
	return func(r *Resolver) { r.exchanger = e }
}

// WithSystemLookup replaces the platform resolver.
func WithSystemLookup(fn LookupFunc) Option {
	return func(r *Resolver) { r.lookup = fn }
}

// WithDialer replaces the dialer used for outbound connections.
func WithDialer(d *net.Dialer) Option {
	return func(r *Resolver) { r.dialer = d }
}

// WithLogger sets the resolver logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// New creates a resolver with the given host to address overrides.
func New(overrides map[string]string, opts ...Option) *Resolver {
	r := &Resolver{
		overrides: make(map[string]string, len(overrides)),
		exchanger: &dns.Client{Net: "udp", Timeout: 2 * time.Second},
		lookup:    net.DefaultResolver.LookupHost,
		dialer:    &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second},
		logger:    logging.Default().WithComponent("resolver"),
	}
	for host, addr := range overrides {
		r.overrides[canonical(host)] = addr
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func canonical(host string) string {
	return strings.TrimSuffix(strings.ToLower(host), ".")
}

// Override returns the override address for host, if any.
func (r *Resolver) Override(host string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	addr, ok := r.overrides[canonical(host)]
	return addr, ok
}

// Resolve returns the override address for known hosts and otherwise the
// first address from the platform resolver.
func (r *Resolver) Resolve(ctx context.Context, host string) (string, error) {
	if addr, ok := r.Override(host); ok {
		return addr, nil
	}
	addrs, err := r.lookup(ctx, host)
	if err != nil {
		return "", err
	}
	if len(addrs) == 0 {
		return "", fmt.Errorf("no addresses for %s", host)
	}
	return addrs[0], nil
}

// DialContext dials addr, substituting the override address when the host
// part is in the table. Other hosts are dialed unchanged.
func (r *Resolver) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	if override, ok := r.Override(host); ok {
		r.logger.Debug("Dialing override address", "host", host, "address", override)
		addr = net.JoinHostPort(override, port)
	}
	return r.dialer.DialContext(ctx, network, addr)
}

// Bootstrap refreshes every override once. It never fails; hosts that
// cannot be resolved keep their configured literal.
func (r *Resolver) Bootstrap(ctx context.Context) []HostResult {
	r.mu.RLock()
	hosts := make(map[string]string, len(r.overrides))
	for host, addr := range r.overrides {
		hosts[host] = addr
	}
	r.mu.RUnlock()

	results := make([]HostResult, 0, len(hosts))
	for host, fallback := range hosts {
		result := r.bootstrapHost(ctx, host, fallback)
		if result.Source == SourceFallback {
			r.logger.Warn("Could not resolve host, keeping fallback address",
				"host", host, "address", fallback, "error", result.Err)
		} else {
			r.logger.Debug("Resolved host", "host", host, "address", result.Address, "source", result.Source)
			r.mu.Lock()
			r.overrides[host] = result.Address
			r.mu.Unlock()
		}
		results = append(results, result)
	}
	return results
}

func (r *Resolver) bootstrapHost(ctx context.Context, host, fallback string) HostResult {
	addr, err := r.queryNameservers(ctx, host)
	if err == nil {
		return HostResult{Host: host, Address: addr, Source: SourceNameserver}
	}

	addrs, sysErr := r.lookup(ctx, host)
	if sysErr == nil {
		for _, a := range addrs {
			if ip := net.ParseIP(a); ip != nil && ip.To4() != nil {
				return HostResult{Host: host, Address: a, Source: SourceSystem}
			}
		}
		sysErr = fmt.Errorf("no IPv4 address for %s", host)
	}

	return HostResult{
		Host:    host,
		Address: fallback,
		Source:  SourceFallback,
		Err:     fmt.Errorf("nameserver lookup: %v; system lookup: %w", err, sysErr),
	}
}

// queryNameservers asks each configured nameserver for an A record and
// returns the first address found.
func (r *Resolver) queryNameservers(ctx context.Context, host string) (string, error) {
	if len(r.nameservers) == 0 {
		return "", fmt.Errorf("no nameservers configured")
	}

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(host), dns.TypeA)
	msg.RecursionDesired = true

	var lastErr error
	for _, server := range r.nameservers {
		resp, _, err := r.exchanger.ExchangeContext(ctx, msg, server)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.Rcode != dns.RcodeSuccess {
			lastErr = fmt.Errorf("%s answered %s", server, dns.RcodeToString[resp.Rcode])
			continue
		}
		for _, rr := range resp.Answer {
			if a, ok := rr.(*dns.A); ok {
				return a.A.String(), nil
			}
		}
		lastErr = fmt.Errorf("%s returned no A record", server)
	}
	return "", lastErr
}
