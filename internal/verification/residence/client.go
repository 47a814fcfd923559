// Package residence adapts the external residence verification partner.
// Each client invocation issues exactly one outbound call; retry and circuit
// breaking belong to the resilience wrapper.
package residence

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"onboarding-gateway/internal/platform/config"
	"onboarding-gateway/internal/verification"
)

// Request carries the address fields sent to the partner.
type Request struct {
	City        string `json:"city"`
	State       string `json:"state"`
	PostalCode  string `json:"postal_code"`
	AddressHash string `json:"address_hash"`
}

// Result is the normalized partner response. Outcome is OutcomeSuccess only
// when the partner set the verified flag AND the confidence met the
// configured threshold; a positive flag alone is insufficient.
type Result struct {
	Outcome     verification.Outcome
	Confidence  float64
	ReferenceID string
	Detail      string
}

// Class implements verification.Classified.
func (r Result) Class() verification.Outcome { return r.Outcome }

// Client performs one residence verification call.
type Client interface {
	Verify(ctx context.Context, req Request) (Result, error)
}

type wireResponse struct {
	Verified    bool    `json:"verified"`
	Confidence  float64 `json:"confidence"`
	ReferenceID string  `json:"reference_id"`
}

// HTTPClient calls the partner over HTTPS.
type HTTPClient struct {
	baseURL   string
	apiKey    string
	threshold float64
	client    *http.Client
}

// NewHTTPClient constructs a partner client using the configured confidence
// threshold (defaults to 0.8 when unset).
func NewHTTPClient(cfg config.VerifierConfig) *HTTPClient {
	threshold := cfg.ConfidenceThreshold
	if threshold <= 0 {
		threshold = 0.8
	}
	return &HTTPClient{
		baseURL:   cfg.BaseURL,
		apiKey:    cfg.APIKey,
		threshold: threshold,
		client:    &http.Client{},
	}
}

// Verify issues the outbound call and classifies the response.
func (c *HTTPClient) Verify(ctx context.Context, req Request) (Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Result{}, fmt.Errorf("marshal residence request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/residence/verifications", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build residence request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil && ctx.Err() != context.DeadlineExceeded {
			return Result{}, ctx.Err()
		}
		return Result{Outcome: verification.OutcomeTransient, Detail: err.Error()}, nil
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return Result{Outcome: verification.OutcomeTransient, Detail: fmt.Sprintf("partner returned %d", resp.StatusCode)}, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return Result{Outcome: verification.OutcomeTransient, Detail: "partner throttled the call"}, nil
	case resp.StatusCode >= 400:
		return Result{Outcome: verification.OutcomeRejected}, nil
	}

	var wire wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return Result{Outcome: verification.OutcomeTransient, Detail: "malformed partner response"}, nil
	}

	return classify(wire, c.threshold), nil
}

// classify applies the verified-flag-plus-threshold rule.
func classify(wire wireResponse, threshold float64) Result {
	result := Result{
		Confidence:  wire.Confidence,
		ReferenceID: wire.ReferenceID,
	}
	if wire.Verified && wire.Confidence >= threshold {
		result.Outcome = verification.OutcomeSuccess
	} else {
		result.Outcome = verification.OutcomeRejected
	}
	return result
}

// Mock is a scripted client for tests and local runs; see identity.Mock.
type Mock struct {
	Script  []Result
	Latency time.Duration

	calls atomic.Int64
}

func (m *Mock) Verify(ctx context.Context, _ Request) (Result, error) {
	n := m.calls.Add(1)
	if m.Latency > 0 {
		select {
		case <-time.After(m.Latency):
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
	if len(m.Script) == 0 {
		return Result{Outcome: verification.OutcomeSuccess, Confidence: 0.95, ReferenceID: "mock-residence"}, nil
	}
	idx := int(n) - 1
	if idx >= len(m.Script) {
		idx = len(m.Script) - 1
	}
	return m.Script[idx], nil
}

// Calls reports how many times Verify was invoked.
func (m *Mock) Calls() int64 { return m.calls.Load() }
