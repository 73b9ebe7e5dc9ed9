// Package calculation implements the emissions calculation provider
// abstraction: a primary remote factor service with an internal
// DEFRA-class fallback, selected behind one interface so callers never
// branch on provider identity.
package calculation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/PaesslerAG/jsonpath"
	core "github.com/carbonledger/platform/internal/app/core/service"
	"github.com/carbonledger/platform/internal/app/domain/carbon"
	"github.com/carbonledger/platform/internal/app/metrics"
	"github.com/carbonledger/platform/pkg/logger"
)

// remoteRetryPolicy governs retries of the remote provider HTTP call itself,
// distinct from the fallthrough to the internal provider: a transport blip or
// a 5xx/429 is worth one or two retries, after a short exponential backoff,
// before giving up on the remote provider for this call.
var remoteRetryPolicy = core.RetryPolicy{
	Attempts:       3,
	InitialBackoff: 200 * time.Millisecond,
	MaxBackoff:     2 * time.Second,
	Multiplier:     2,
}

// Result is the outcome of a calculation, including provenance sufficient
// for regulatory transparency.
type Result struct {
	TotalCO2eKg float64
	Scope       carbon.Scope
	FactorID    string
	FactorValue float64
	Year        int
	IsFallback  bool
	Provider    string
	// Provenance holds the factor source's own methodology note, when the
	// remote provider's response carries one. Empty for fallback results.
	Provenance string
}

// Input is the subset of an ActivityData row a provider needs.
type Input struct {
	ActivityID   string
	ActivityType carbon.ActivityType
	Quantity     float64
	Unit         string
	Region       string
	Year         int
}

// Provider is the single interface both implementations satisfy.
type Provider interface {
	CalculateForActivity(ctx context.Context, in Input) (Result, error)
	ProviderName() string
	HealthCheck(ctx context.Context) bool
}

// ProviderError wraps a non-retryable 4xx response from the remote
// provider; ingestion workers surface it verbatim rather than falling back.
type ProviderError struct {
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("calculation provider: %d %s", e.StatusCode, e.Message)
}

// fallbackFactors mirrors the DEFRA-class defaults used when no remote
// provider is configured or the remote provider is unavailable.
var fallbackFactors = map[carbon.ActivityType]float64{
	carbon.ActivityElectricity: 0.475, // kg CO2e / kWh
	carbon.ActivityNaturalGas:  2.016, // kg CO2e / m3
	carbon.ActivityDieselFuel:  2.687, // kg CO2e / L
}

// FallbackFactor exposes the built-in emission factor for an activity kind,
// used by ingestion and the ROI/suggestion engines alike.
func FallbackFactor(kind carbon.ActivityType) (float64, bool) {
	f, ok := fallbackFactors[kind]
	return f, ok
}

// InternalProvider is the always-available fallback implementation.
type InternalProvider struct {
	year int
}

// NewInternalProvider returns the fallback provider, tagging every result
// with the given factor-table year.
func NewInternalProvider(year int) *InternalProvider {
	if year <= 0 {
		year = time.Now().UTC().Year()
	}
	return &InternalProvider{year: year}
}

func (p *InternalProvider) ProviderName() string { return "internal-defra-class" }

func (p *InternalProvider) HealthCheck(context.Context) bool { return true }

func (p *InternalProvider) CalculateForActivity(_ context.Context, in Input) (Result, error) {
	factor, ok := fallbackFactors[in.ActivityType]
	if !ok {
		return Result{}, fmt.Errorf("no fallback factor for activity type %q", in.ActivityType)
	}
	return Result{
		TotalCO2eKg: in.Quantity * factor,
		Scope:       carbon.ScopeForActivity(in.ActivityType),
		FactorID:    "defra-" + string(in.ActivityType),
		FactorValue: factor,
		Year:        p.year,
		IsFallback:  true,
		Provider:    p.ProviderName(),
	}, nil
}

// RemoteProvider calls an external emission-factor HTTP API, falling back to
// an InternalProvider on transport failure, timeout, or a 5xx/429 response.
// Any other 4xx is returned to the caller as a ProviderError without a retry
// or fallback attempt.
type RemoteProvider struct {
	baseURL  string
	apiKey   string
	client   *http.Client
	fallback Provider
	log      *logger.Logger

	calls    int64
	failures int64
}

// NewRemoteProvider builds a primary provider. client.Timeout should be ~10s
// per the external-call budget; a nil client gets that default.
func NewRemoteProvider(baseURL, apiKey string, client *http.Client, fallback Provider, log *logger.Logger) *RemoteProvider {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if fallback == nil {
		fallback = NewInternalProvider(0)
	}
	if log == nil {
		log = logger.NewDefault("calculation")
	}
	return &RemoteProvider{baseURL: baseURL, apiKey: apiKey, client: client, fallback: fallback, log: log}
}

func (p *RemoteProvider) ProviderName() string { return "remote-emission-factor-service" }

func (p *RemoteProvider) HealthCheck(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 500
}

type remoteRequestBody struct {
	ActivityID string  `json:"activity_id"`
	Region     string  `json:"region"`
	Year       int     `json:"year,omitempty"`
	Kind       string  `json:"kind"`
	Quantity   float64 `json:"quantity"`
	Unit       string  `json:"unit"`
}

type remoteResponseBody struct {
	TotalCO2eKg float64 `json:"total_co2e_kg"`
	FactorID    string  `json:"factor_id"`
	FactorValue float64 `json:"factor_value"`
	Year        int     `json:"year"`
}

func (p *RemoteProvider) CalculateForActivity(ctx context.Context, in Input) (Result, error) {
	finish := core.StartObservation(ctx, metrics.CalculationProviderHooks(), map[string]string{
		"resource": in.ActivityID,
	})
	result, err := p.calculateForActivity(ctx, in)
	finish(err)
	return result, err
}

func (p *RemoteProvider) calculateForActivity(ctx context.Context, in Input) (Result, error) {
	p.calls++
	body, err := json.Marshal(remoteRequestBody{
		ActivityID: in.ActivityID,
		Region:     in.Region,
		Year:       in.Year,
		Kind:       string(in.ActivityType),
		Quantity:   in.Quantity,
		Unit:       in.Unit,
	})
	if err != nil {
		return Result{}, fmt.Errorf("encode calculation request: %w", err)
	}

	var resp *http.Response
	retryErr := core.Retry(ctx, remoteRetryPolicy, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/calculate", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		if p.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+p.apiKey)
		}

		r, err := p.client.Do(req)
		if err != nil {
			return err
		}
		if r.StatusCode >= 500 || r.StatusCode == http.StatusTooManyRequests {
			r.Body.Close()
			return fmt.Errorf("remote provider status %d", r.StatusCode)
		}
		resp = r
		return nil
	})
	if retryErr != nil {
		p.failures++
		p.log.WithError(retryErr).Warn("remote calculation provider unreachable after retries; falling back")
		return p.fallthrough(ctx, in, retryErr)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Result{}, &ProviderError{StatusCode: resp.StatusCode, Message: string(msg)}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		p.failures++
		return p.fallthrough(ctx, in, fmt.Errorf("read calculation response: %w", err))
	}

	var parsed remoteResponseBody
	if err := json.Unmarshal(raw, &parsed); err != nil {
		p.failures++
		return p.fallthrough(ctx, in, fmt.Errorf("decode calculation response: %w", err))
	}

	return Result{
		TotalCO2eKg: parsed.TotalCO2eKg,
		Scope:       carbon.ScopeForActivity(in.ActivityType),
		FactorID:    parsed.FactorID,
		FactorValue: parsed.FactorValue,
		Year:        parsed.Year,
		IsFallback:  false,
		Provider:    p.ProviderName(),
		Provenance:  extractProvenance(raw),
	}, nil
}

// extractProvenance pulls the provider's own methodology note out of its raw
// JSON response, if present. The typed remoteResponseBody deliberately does
// not carry this field since its shape and presence vary by provider; a
// jsonpath lookup lets the provenance block in a generated report surface it
// without every provider needing to conform to one fixed schema.
func extractProvenance(raw []byte) string {
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return ""
	}
	value, err := jsonpath.Get("$.source.methodology", doc)
	if err != nil {
		return ""
	}
	text, _ := value.(string)
	return text
}

func (p *RemoteProvider) fallthrough(ctx context.Context, in Input, cause error) (Result, error) {
	res, err := p.fallback.CalculateForActivity(ctx, in)
	if err != nil {
		return Result{}, fmt.Errorf("remote provider failed (%w) and fallback also failed: %w", cause, err)
	}
	res.IsFallback = true
	return res, nil
}

// Stats returns the call/failure counters for observability wiring.
func (p *RemoteProvider) Stats() (calls, failures int64) {
	return p.calls, p.failures
}

// NewFromConfig selects the primary provider at boot; if no base URL is
// configured, or the primary's health check fails, it returns the internal
// fallback directly so callers never need to special-case "no provider".
func NewFromConfig(ctx context.Context, baseURL, apiKey string, client *http.Client, factorYear int, log *logger.Logger) Provider {
	fallback := NewInternalProvider(factorYear)
	if baseURL == "" {
		return fallback
	}
	remote := NewRemoteProvider(baseURL, apiKey, client, fallback, log)
	if !remote.HealthCheck(ctx) {
		if log != nil {
			log.Warn("primary calculation provider health check failed at boot; using fallback")
		}
		return fallback
	}
	return remote
}
