package resolver

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/ipprism/internal/logging"
)

// startDNSServer serves A records from answers on a local UDP port.
func startDNSServer(t *testing.T, answers map[string]string) string {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	handler := dns.HandlerFunc(func(w dns.ResponseWriter, req *dns.Msg) {
		resp := new(dns.Msg)
		resp.SetReply(req)
		q := req.Question[0]
		if addr, ok := answers[q.Name]; ok && q.Qtype == dns.TypeA {
			rr, err := dns.NewRR(q.Name + " 60 IN A " + addr)
			if err == nil {
				resp.Answer = append(resp.Answer, rr)
			}
		} else {
			resp.Rcode = dns.RcodeNameError
		}
		_ = w.WriteMsg(resp)
	})

	started := make(chan struct{})
	server := &dns.Server{PacketConn: pc, Handler: handler, NotifyStartedFunc: func() { close(started) }}
	go func() { _ = server.ActivateAndServe() }()
	<-started
	t.Cleanup(func() { _ = server.Shutdown() })

	return pc.LocalAddr().String()
}

func failingLookup(context.Context, string) ([]string, error) {
	return nil, errors.New("no such host")
}

func TestResolve(t *testing.T) {
	r := New(map[string]string{"WWW.Example.COM.": "203.0.113.7"},
		WithSystemLookup(func(_ context.Context, host string) ([]string, error) {
			return []string{"198.51.100.1", "198.51.100.2"}, nil
		}),
		WithLogger(logging.NewDiscard()))

	addr, err := r.Resolve(context.Background(), "www.example.com")
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.7", addr)

	addr, err = r.Resolve(context.Background(), "other.example.org")
	require.NoError(t, err)
	assert.Equal(t, "198.51.100.1", addr)
}

func TestResolveSystemFailure(t *testing.T) {
	r := New(nil, WithSystemLookup(failingLookup), WithLogger(logging.NewDiscard()))
	_, err := r.Resolve(context.Background(), "missing.example")
	assert.Error(t, err)
}

func TestDialContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "ok")
	}))
	defer server.Close()

	_, port, err := net.SplitHostPort(server.Listener.Addr().String())
	require.NoError(t, err)

	r := New(map[string]string{"reputation.invalid": "127.0.0.1"}, WithLogger(logging.NewDiscard()))
	client := &http.Client{
		Transport: &http.Transport{DialContext: r.DialContext},
		Timeout:   5 * time.Second,
	}

	t.Run("override host dials mapped address", func(t *testing.T) {
		resp, err := client.Get("http://reputation.invalid:" + port + "/")
		require.NoError(t, err)
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		assert.Equal(t, "ok", string(body))
	})

	t.Run("other hosts are dialed unchanged", func(t *testing.T) {
		resp, err := client.Get(server.URL)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("malformed address", func(t *testing.T) {
		_, err := r.DialContext(context.Background(), "tcp", "no-port")
		assert.Error(t, err)
	})
}

func TestBootstrap(t *testing.T) {
	t.Run("nameserver answer replaces fallback", func(t *testing.T) {
		ns := startDNSServer(t, map[string]string{"api.example.test.": "192.0.2.10"})
		r := New(map[string]string{"api.example.test": "192.0.2.1"},
			WithNameservers(ns),
			WithSystemLookup(failingLookup),
			WithLogger(logging.NewDiscard()))

		results := r.Bootstrap(context.Background())
		require.Len(t, results, 1)
		assert.Equal(t, SourceNameserver, results[0].Source)

		addr, _ := r.Override("api.example.test")
		assert.Equal(t, "192.0.2.10", addr)
	})

	t.Run("system resolver used when nameserver fails", func(t *testing.T) {
		ns := startDNSServer(t, nil)
		r := New(map[string]string{"api.example.test": "192.0.2.1"},
			WithNameservers(ns),
			WithSystemLookup(func(context.Context, string) ([]string, error) {
				return []string{"2001:db8::1", "192.0.2.20"}, nil
			}),
			WithLogger(logging.NewDiscard()))

		results := r.Bootstrap(context.Background())
		require.Len(t, results, 1)
		assert.Equal(t, SourceSystem, results[0].Source)
		assert.Equal(t, "192.0.2.20", results[0].Address)
	})

	t.Run("failure keeps fallback literal", func(t *testing.T) {
		ns := startDNSServer(t, nil)
		r := New(map[string]string{"api.example.test": "192.0.2.1"},
			WithNameservers(ns),
			WithSystemLookup(failingLookup),
			WithLogger(logging.NewDiscard()))

		results := r.Bootstrap(context.Background())
		require.Len(t, results, 1)
		assert.Equal(t, SourceFallback, results[0].Source)
		assert.Error(t, results[0].Err)

		addr, ok := r.Override("api.example.test")
		assert.True(t, ok)
		assert.Equal(t, "192.0.2.1", addr)
	})

	t.Run("no nameservers falls through to system", func(t *testing.T) {
		r := New(map[string]string{"api.example.test": "192.0.2.1"},
			WithSystemLookup(func(context.Context, string) ([]string, error) {
				return []string{"192.0.2.30"}, nil
			}),
			WithLogger(logging.NewDiscard()))

		results := r.Bootstrap(context.Background())
		assert.Equal(t, SourceSystem, results[0].Source)
	})
}
