package d402

import (
	"context"
	"crypto/subtle"

	"github.com/phuslu/log"
)

// AdmitReason says why a call was admitted.
type AdmitReason string

const (
	// ReasonAPIKey means the caller presented the server's internal key.
	ReasonAPIKey AdmitReason = "api-key"
	// ReasonVerifiedPayment means the caller's payment proof verified
	// against the tool's declared price.
	ReasonVerifiedPayment AdmitReason = "verified-payment"
)

// Call is one inbound tool call as seen by the gate: the tool name plus
// whatever credentials the caller attached.
type Call struct {
	Tool string
	// BearerToken is the Authorization bearer value, if any.
	BearerToken string
	// PaymentHeader is the raw base64 X-PAYMENT value, if any.
	PaymentHeader string
}

// Decision is the gate's verdict for a single call. Exactly one of
// Admitted or Rejected applies; a rejected decision carries the
// requirements the caller must satisfy.
type Decision struct {
	Admitted bool
	Reason   AdmitReason

	// Payload is the verified payment, set only for verified-payment
	// admissions. The middleware settles it after the handler runs.
	Payload *PaymentPayload

	// RejectReason is a human-readable explanation for rejections.
	RejectReason string
}

// Gate decides whether a call may proceed: a matching internal API key
// admits immediately, otherwise a payment proof must verify against the
// tool's declared price. The gate never errors past its boundary; every
// evaluation yields a decision.
type Gate struct {
	apiKey   string
	verifier Verifier
}

// NewGate creates a payment gate. apiKey may be empty, in which case every
// call requires a verified payment.
func NewGate(apiKey string, verifier Verifier) *Gate {
	return &Gate{apiKey: apiKey, verifier: verifier}
}

// Settle settles a verified payment through the configured verifier.
func (g *Gate) Settle(ctx context.Context, payload *PaymentPayload, requirements *PaymentRequirements) (*SettleResponse, error) {
	return g.verifier.Settle(ctx, payload, requirements)
}

// Evaluate decides whether the call may proceed. requirements describe the
// declared price of the tool being called.
func (g *Gate) Evaluate(ctx context.Context, call Call, requirements *PaymentRequirements) Decision {
	if g.apiKey != "" && call.BearerToken != "" &&
		subtle.ConstantTimeCompare([]byte(call.BearerToken), []byte(g.apiKey)) == 1 {
		return Decision{Admitted: true, Reason: ReasonAPIKey}
	}

	if call.PaymentHeader == "" {
		return Decision{RejectReason: "X-PAYMENT header is required"}
	}

	payload, err := DecodePaymentPayload(call.PaymentHeader)
	if err != nil {
		log.Warn().Err(err).Str("tool", call.Tool).Msg("malformed payment header")
		return Decision{RejectReason: "invalid X-PAYMENT header"}
	}

	response, err := g.verifier.Verify(ctx, payload, requirements)
	if err != nil {
		// Verification failures reject the call, they never crash it.
		log.Error().Err(err).Str("tool", call.Tool).Msg("payment verification failed")
		return Decision{RejectReason: "payment verification failed"}
	}

	if !response.IsValid {
		reason := "invalid payment"
		if response.InvalidReason != nil {
			reason = *response.InvalidReason
		}
		return Decision{RejectReason: reason}
	}

	return Decision{Admitted: true, Reason: ReasonVerifiedPayment, Payload: payload}
}
