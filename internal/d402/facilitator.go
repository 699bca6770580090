package d402

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const (
	headerContentType   = "Content-Type"
	headerAPIKey        = "X-Api-Key"
	mimeApplicationJSON = "application/json"

	defaultFacilitatorTimeout = 30 * time.Second
)

// Verifier is the pluggable payment-verification collaborator. The
// production implementation is the FacilitatorClient; TestingVerifier
// stands in when D402_TESTING_MODE is enabled.
type Verifier interface {
	Verify(ctx context.Context, payload *PaymentPayload, requirements *PaymentRequirements) (*VerifyResponse, error)
	Settle(ctx context.Context, payload *PaymentPayload, requirements *PaymentRequirements) (*SettleResponse, error)
}

// FacilitatorClient talks to the d402 facilitator's /verify and /settle
// endpoints.
type FacilitatorClient struct {
	url        string
	apiKey     string
	httpClient *http.Client
}

// NewFacilitatorClient creates a facilitator client. apiKey may be empty.
func NewFacilitatorClient(url, apiKey string) *FacilitatorClient {
	return &FacilitatorClient{
		url:        url,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: defaultFacilitatorTimeout},
	}
}

// Verify sends a payment verification request to the facilitator.
func (c *FacilitatorClient) Verify(ctx context.Context, payload *PaymentPayload, requirements *PaymentRequirements) (*VerifyResponse, error) {
	var verifyResp VerifyResponse
	if err := c.post(ctx, "verify", payload, requirements, &verifyResp); err != nil {
		return nil, err
	}
	return &verifyResp, nil
}

// Settle sends a payment settlement request to the facilitator.
func (c *FacilitatorClient) Settle(ctx context.Context, payload *PaymentPayload, requirements *PaymentRequirements) (*SettleResponse, error) {
	var settleResp SettleResponse
	if err := c.post(ctx, "settle", payload, requirements, &settleResp); err != nil {
		return nil, err
	}
	return &settleResp, nil
}

func (c *FacilitatorClient) post(ctx context.Context, endpoint string, payload *PaymentPayload, requirements *PaymentRequirements, out any) error {
	reqBody := map[string]any{
		"d402Version":         CurrentVersion,
		"paymentPayload":      payload,
		"paymentRequirements": requirements,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("d402: failed to marshal %s request body: %w", endpoint, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/%s", c.url, endpoint), bytes.NewBuffer(jsonBody))
	if err != nil {
		return fmt.Errorf("d402: failed to create %s request: %w", endpoint, err)
	}
	req.Header.Set(headerContentType, mimeApplicationJSON)
	if c.apiKey != "" {
		req.Header.Set(headerAPIKey, c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("d402: failed to send %s request: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("d402: facilitator %s failed: %s", endpoint, resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("d402: failed to decode %s response: %w", endpoint, err)
	}

	return nil
}

// TestingVerifier admits any well-formed payment payload without contacting
// a facilitator and reports settlements as successful without a
// transaction. For development only.
type TestingVerifier struct{}

func (TestingVerifier) Verify(_ context.Context, payload *PaymentPayload, requirements *PaymentRequirements) (*VerifyResponse, error) {
	if payload.Scheme != requirements.Scheme || payload.Network != requirements.Network {
		reason := fmt.Sprintf("payment scheme/network mismatch: got %s/%s, want %s/%s",
			payload.Scheme, payload.Network, requirements.Scheme, requirements.Network)
		return &VerifyResponse{IsValid: false, InvalidReason: &reason}, nil
	}
	return &VerifyResponse{IsValid: true}, nil
}

func (TestingVerifier) Settle(_ context.Context, _ *PaymentPayload, requirements *PaymentRequirements) (*SettleResponse, error) {
	return &SettleResponse{Success: true, Network: requirements.Network}, nil
}
