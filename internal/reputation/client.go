// Package reputation implements the clients for the two external reputation
// services: the primary risk-scoring service and the secondary threat-pulse
// service. Both share one pooled HTTP transport whose dialer is supplied by
// the resolver shim.
package reputation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/anstrom/ipprism/internal/logging"
	"github.com/anstrom/ipprism/internal/metrics"
)

const (
	ServicePrimary   = "primary"
	ServiceSecondary = "secondary"

	// DefaultTimeout bounds every outbound call, including body read.
	DefaultTimeout = 20 * time.Second

	// maxBodyBytes caps how much of a response body is decoded.
	maxBodyBytes = 1 << 20
)

// Dialer is the dial hook installed on the shared transport.
// *resolver.Resolver implements it.
type Dialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

type userAgentTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.userAgent)
	}
	return t.base.RoundTrip(req)
}

// NewHTTPClient builds the shared client. A nil dialer uses the default
// net.Dialer; a non-positive timeout uses DefaultTimeout. The timeout is a
// ceiling for both services; WithTimeout tightens it per service.
func NewHTTPClient(dialer Dialer, timeout time.Duration, userAgent string) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = 32
	if dialer != nil {
		transport.DialContext = dialer.DialContext
	}

	return &http.Client{
		Transport: &userAgentTransport{base: transport, userAgent: userAgent},
		Timeout:   timeout,
	}
}

// ClientOption customises a client.
type ClientOption func(*service)

// WithMetrics records lookup metrics on r.
func WithMetrics(r metrics.Recorder) ClientOption {
	return func(s *service) { s.metrics = r }
}

// WithLogger sets the client logger.
func WithLogger(l *logging.Logger) ClientOption {
	return func(s *service) { s.logger = l }
}

// WithTimeout bounds each call of this client, including the body read.
// Non-positive values leave only the shared client's timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(s *service) { s.timeout = d }
}

// service holds what both clients share.
type service struct {
	name    string
	http    *http.Client
	baseURL string
	apiKey  string
	timeout time.Duration
	metrics metrics.Recorder
	logger  *logging.Logger
}

func newService(name string, client *http.Client, baseURL, apiKey string, opts []ClientOption) service {
	if client == nil {
		client = NewHTTPClient(nil, DefaultTimeout, "")
	}
	s := service{
		name:    name,
		http:    client,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  strings.TrimSpace(apiKey),
		metrics: metrics.Noop{},
		logger:  logging.Default().WithComponent("reputation"),
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// Configured reports whether an API key is present.
func (s *service) Configured() bool {
	return s.apiKey != ""
}

// get issues a GET and returns the status code and the capped body.
func (s *service) get(ctx context.Context, url string, header http.Header) (int, []byte, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, err
	}
	for k, values := range header {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

func (s *service) observe(start time.Time, outcome string) {
	s.metrics.RecordLookupDuration(s.name, time.Since(start))
	s.metrics.IncrementLookups(s.name, outcome)
}

func decode(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("invalid JSON response: %w", err)
	}
	return nil
}

func statusError(code int) error {
	return fmt.Errorf("unexpected HTTP status %d %s", code, http.StatusText(code))
}
