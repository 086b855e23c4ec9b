package reputation

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/anstrom/ipprism/internal/metrics"
)

const secondaryKeyHeader = "X-OTX-API-KEY"

type secondaryBody struct {
	PulseInfo *struct {
		Count *int `json:"count"`
	} `json:"pulse_info"`
}

// SecondaryClient queries the threat-pulse service. It never returns an
// error: failures are folded into an unknown PulseCount.
type SecondaryClient struct {
	service
}

// NewSecondaryClient creates a secondary client.
func NewSecondaryClient(client *http.Client, baseURL, apiKey string, opts ...ClientOption) *SecondaryClient {
	return &SecondaryClient{service: newService(ServiceSecondary, client, baseURL, apiKey, opts)}
}

// PulseCount returns the number of pulses referencing address. Without a
// key, or when the service has no entry (404), the count is a known zero.
// Any other failure yields an unknown count.
func (c *SecondaryClient) PulseCount(ctx context.Context, address string) PulseCount {
	if !c.Configured() {
		return KnownPulses(0)
	}

	endpoint := c.baseURL + "/api/v1/indicators/IPv4/" + url.PathEscape(address) + "/general"
	header := http.Header{}
	header.Set(secondaryKeyHeader, c.apiKey)

	start := time.Now()
	code, body, err := c.get(ctx, endpoint, header)
	switch {
	case err != nil:
		c.observe(start, metrics.OutcomeTransport)
		c.logger.ErrorLookup("Secondary lookup failed", c.name, address, err)
		return UnknownPulses()
	case code == http.StatusNotFound:
		c.observe(start, metrics.OutcomeNotFound)
		return KnownPulses(0)
	case code < 200 || code > 299:
		c.observe(start, metrics.OutcomeTransport)
		c.logger.ErrorLookup("Secondary lookup failed", c.name, address, statusError(code))
		return UnknownPulses()
	}

	var parsed secondaryBody
	if err := decode(body, &parsed); err != nil {
		c.observe(start, metrics.OutcomeTransport)
		c.logger.ErrorLookup("Secondary lookup failed", c.name, address, err)
		return UnknownPulses()
	}
	c.observe(start, metrics.OutcomeOK)

	if parsed.PulseInfo == nil || parsed.PulseInfo.Count == nil {
		return KnownPulses(0)
	}
	return KnownPulses(*parsed.PulseInfo.Count)
}
