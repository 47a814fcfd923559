// Package identity adapts the external identity verification partner.
// Each client invocation issues exactly one outbound call; retry and circuit
// breaking belong to the resilience wrapper.
package identity

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

// Request carries the identity fields sent to the partner.
type Request struct {
	TaxID       string `json:"tax_id"`
	FullName    string `json:"full_name"`
	DateOfBirth string `json:"date_of_birth"`
	Mobile      string `json:"mobile"`
}

// Result is the normalized partner response.
// Outcome is OutcomeSuccess only when the partner explicitly passed the
// identity check.
type Result struct {
	Outcome     verification.Outcome
	RiskScore   float64
	ReferenceID string
	// Detail records the transient cause for logs; empty on definitive
	// outcomes.
	Detail string
}

// Class implements verification.Classified.
func (r Result) Class() verification.Outcome { return r.Outcome }

// Client performs one identity verification call.
type Client interface {
	Verify(ctx context.Context, req Request) (Result, error)
}

// wire types for the partner's JSON contract.
type wireResponse struct {
	Status      string  `json:"status"` // "passed" | "failed"
	RiskScore   float64 `json:"risk_score"`
	ReferenceID string  `json:"reference_id"`
}

// HTTPClient calls the partner over HTTPS.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPClient constructs a partner client. The http.Client carries no
// global timeout; per-call deadlines come from the caller's context.
func NewHTTPClient(cfg config.VerifierConfig) *HTTPClient {
	return &HTTPClient{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{},
	}
}

// Verify issues the outbound call and classifies the response.
// Network failures and 5xx responses classify as transient; 4xx responses
// and explicit failures classify as rejected.
func (c *HTTPClient) Verify(ctx context.Context, req Request) (Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Result{}, fmt.Errorf("marshal identity request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/identity/verifications", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build identity request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		// Caller cancellation is not a partner fault; propagate it.
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

	result := Result{
		RiskScore:   wire.RiskScore,
		ReferenceID: wire.ReferenceID,
	}
	if wire.Status == "passed" {
		result.Outcome = verification.OutcomeSuccess
	} else {
		result.Outcome = verification.OutcomeRejected
	}
	return result, nil
}

// Mock is a scripted client for tests and local runs. Each Verify call pops
// the next scripted result; once the script is exhausted the last entry
// repeats. A configurable latency mimics real-world calls.
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
		return Result{Outcome: verification.OutcomeSuccess, RiskScore: 0.1, ReferenceID: "mock-identity"}, nil
	}
	idx := int(n) - 1
	if idx >= len(m.Script) {
		idx = len(m.Script) - 1
	}
	return m.Script[idx], nil
}

// Calls reports how many times Verify was invoked.
func (m *Mock) Calls() int64 { return m.calls.Load() }
