// Package d402 implements the pay-per-call gating for the MCP gateway:
// payment wire types, the facilitator client, the payment gate, and the
// gin middleware that fronts the /mcp route.
//
// The cryptographic verification and on-chain settlement live in the
// external facilitator service; this package only speaks its HTTP API.
package d402

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// CurrentVersion is the d402 protocol version carried on every payload.
const CurrentVersion = 1

// EIP712Domain identifies the typed-data domain a payment signature is
// bound to.
type EIP712Domain struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// TokenAsset describes the token a tool is priced in.
type TokenAsset struct {
	Address  string        `json:"address"`
	Decimals int           `json:"decimals"`
	Network  string        `json:"network"`
	EIP712   *EIP712Domain `json:"eip712,omitempty"`
}

// TokenAmount is a tool price: an amount in the asset's base units.
type TokenAmount struct {
	// Amount is denominated in the smallest unit of the token
	// (e.g. "2000" for 0.002 of a 6-decimal token).
	Amount string     `json:"amount"`
	Asset  TokenAsset `json:"asset"`
}

// PaymentRequirements is one entry of the "accepts" array returned with an
// HTTP 402 response. It tells the caller exactly what payment would admit
// the call.
type PaymentRequirements struct {
	Scheme            string         `json:"scheme"`
	Network           string         `json:"network"`
	MaxAmountRequired string         `json:"maxAmountRequired"`
	Resource          string         `json:"resource"`
	Description       string         `json:"description,omitempty"`
	MimeType          string         `json:"mimeType,omitempty"`
	PayTo             string         `json:"payTo"`
	MaxTimeoutSeconds int            `json:"maxTimeoutSeconds,omitempty"`
	Asset             string         `json:"asset"`
	Extra             *PaymentExtra  `json:"extra,omitempty"`
	OutputSchema      map[string]any `json:"outputSchema,omitempty"`
}

// PaymentExtra carries the EIP-712 domain info the caller needs to build a
// valid signature for the asset.
type PaymentExtra struct {
	Name    string `json:"name,omitempty"`
	Version string `json:"version,omitempty"`
}

// RequirementsFor builds the payment requirements advertised for a tool
// priced at the given amount, payable to payTo.
func RequirementsFor(toolName string, price *TokenAmount, payTo, description string) *PaymentRequirements {
	req := &PaymentRequirements{
		Scheme:            "exact",
		Network:           price.Asset.Network,
		MaxAmountRequired: price.Amount,
		Resource:          "mcp://tool/" + toolName,
		Description:       description,
		MimeType:          "application/json",
		PayTo:             payTo,
		MaxTimeoutSeconds: 60,
		Asset:             price.Asset.Address,
	}
	if price.Asset.EIP712 != nil {
		req.Extra = &PaymentExtra{
			Name:    price.Asset.EIP712.Name,
			Version: price.Asset.EIP712.Version,
		}
	}
	return req
}

// PaymentPayload is the decoded X-PAYMENT header: the caller's signed
// payment proof. The Payload field stays generic; its structure belongs to
// the verification scheme, not to this server.
type PaymentPayload struct {
	D402Version int            `json:"d402Version"`
	Scheme      string         `json:"scheme"`
	Network     string         `json:"network"`
	Payload     map[string]any `json:"payload"`
}

// DecodePaymentPayload decodes a base64 X-PAYMENT header value.
func DecodePaymentPayload(encoded string) (*PaymentPayload, error) {
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("d402: failed to decode payment header: %w", err)
	}

	var payload PaymentPayload
	if err := json.Unmarshal(decoded, &payload); err != nil {
		return nil, fmt.Errorf("d402: failed to unmarshal payment payload: %w", err)
	}

	payload.D402Version = CurrentVersion
	return &payload, nil
}

// VerifyResponse is the facilitator's answer to a verification request.
type VerifyResponse struct {
	IsValid       bool    `json:"isValid"`
	InvalidReason *string `json:"invalidReason,omitempty"`
	Payer         *string `json:"payer,omitempty"`
}

// SettleResponse is the facilitator's answer to a settlement request.
type SettleResponse struct {
	Success     bool    `json:"success"`
	ErrorReason *string `json:"errorReason,omitempty"`
	Transaction string  `json:"transaction"`
	Network     string  `json:"network"`
	Payer       *string `json:"payer,omitempty"`
}

// EncodeToBase64String encodes the settle response for the
// X-Payment-Response header.
func (s *SettleResponse) EncodeToBase64String() (string, error) {
	jsonBytes, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("d402: failed to encode settle response: %w", err)
	}
	return base64.StdEncoding.EncodeToString(jsonBytes), nil
}
