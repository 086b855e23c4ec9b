package reputation

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/anstrom/ipprism/internal/errors"
	"github.com/anstrom/ipprism/internal/metrics"
)

// NotAvailable fills string fields the primary service leaves out.
const NotAvailable = "N/A"

// PrimaryResult is the primary service's classification of one address.
type PrimaryResult struct {
	Score        int    `json:"score"`
	Country      string `json:"country"`
	ISP          string `json:"isp"`
	Organization string `json:"organization"`
}

// AccountStatus is the primary account's usage summary.
type AccountStatus struct {
	CreditsRemaining int `json:"credits_remaining"`
	Requests         int `json:"requests"`
}

type primaryEnvelope struct {
	Success *bool   `json:"success"`
	Message *string `json:"message"`
}

type primaryLookupBody struct {
	primaryEnvelope
	FraudScore   *float64 `json:"fraud_score"`
	CountryCode  *string  `json:"country_code"`
	ISP          *string  `json:"ISP"`
	Organization *string  `json:"organization"`
}

type primaryAccountBody struct {
	primaryEnvelope
	CreditsRemaining *float64 `json:"credits_remaining"`
	Requests         *float64 `json:"requests"`
}

// PrimaryClient queries the risk-scoring service.
type PrimaryClient struct {
	service
}

// NewPrimaryClient creates a primary client. An empty apiKey yields a client
// whose calls fail with a configuration error and never touch the network.
func NewPrimaryClient(client *http.Client, baseURL, apiKey string, opts ...ClientOption) *PrimaryClient {
	return &PrimaryClient{service: newService(ServicePrimary, client, baseURL, apiKey, opts)}
}

// Lookup classifies one address.
func (c *PrimaryClient) Lookup(ctx context.Context, address string) (*PrimaryResult, error) {
	if !c.Configured() {
		return nil, errors.ErrKeyNotConfigured(c.name)
	}

	endpoint := c.baseURL + "/api/json/ip/" + url.PathEscape(c.apiKey) + "/" + url.PathEscape(address) +
		"?strictness=0&allow_public_access_points=true"

	start := time.Now()
	var body primaryLookupBody
	if err := c.fetch(ctx, endpoint, address, &body); err != nil {
		c.observe(start, outcomeOf(err))
		return nil, err
	}
	c.observe(start, metrics.OutcomeOK)

	result := &PrimaryResult{
		Country:      stringOr(body.CountryCode, NotAvailable),
		ISP:          stringOr(body.ISP, NotAvailable),
		Organization: stringOr(body.Organization, NotAvailable),
	}
	if body.FraudScore != nil {
		result.Score = int(*body.FraudScore)
	}

	c.logger.Debug("Primary lookup complete", "address", address, "score", result.Score)
	return result, nil
}

// AccountStatus reports the remaining credits of the configured key.
func (c *PrimaryClient) AccountStatus(ctx context.Context) (*AccountStatus, error) {
	if !c.Configured() {
		return nil, errors.ErrKeyNotConfigured(c.name)
	}

	endpoint := c.baseURL + "/api/json/account/" + url.PathEscape(c.apiKey)

	var body primaryAccountBody
	if err := c.fetch(ctx, endpoint, "", &body); err != nil {
		return nil, err
	}

	status := &AccountStatus{}
	if body.CreditsRemaining != nil {
		status.CreditsRemaining = int(*body.CreditsRemaining)
	}
	if body.Requests != nil {
		status.Requests = int(*body.Requests)
	}
	return status, nil
}

// envelope exposes the success/message pair of any primary response.
type envelope interface {
	env() primaryEnvelope
}

func (b *primaryLookupBody) env() primaryEnvelope  { return b.primaryEnvelope }
func (b *primaryAccountBody) env() primaryEnvelope { return b.primaryEnvelope }

// fetch performs the GET, maps transport and HTTP failures to TRANSPORT and
// an unsuccessful envelope to APPLICATION.
func (c *PrimaryClient) fetch(ctx context.Context, endpoint, address string, out envelope) error {
	code, body, err := c.get(ctx, endpoint, nil)
	if err != nil {
		return errors.ErrTransport(c.name, address, err)
	}
	if code < 200 || code > 299 {
		return errors.ErrTransport(c.name, address, statusError(code)).WithContext("status", code)
	}
	if err := decode(body, out); err != nil {
		return errors.ErrTransport(c.name, address, err)
	}

	env := out.env()
	if env.Success == nil || !*env.Success {
		return errors.ErrApplication(c.name, address, stringOr(env.Message, "Unknown API error"))
	}
	return nil
}

func stringOr(v *string, fallback string) string {
	if v == nil {
		return fallback
	}
	return *v
}

func outcomeOf(err error) string {
	switch errors.GetCode(err) {
	case errors.CodeTransport:
		return metrics.OutcomeTransport
	case errors.CodeApplication:
		return metrics.OutcomeApplication
	default:
		return metrics.OutcomeUnknown
	}
}
