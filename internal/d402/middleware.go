package d402

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/phuslu/log"
)

// ContextKeyReason is the gin context key under which the middleware
// records the admit reason for downstream handlers and logging.
const ContextKeyReason = "d402.reason"

// RequirementsLookup resolves the declared payment requirements for a tool
// name. Returning false marks the tool as free.
type RequirementsLookup func(tool string) (*PaymentRequirements, bool)

// jsonrpcToolCall is the slice of a JSON-RPC request the middleware needs:
// enough to recognize tools/call and the tool being called.
type jsonrpcToolCall struct {
	Method string `json:"method"`
	Params struct {
		Name string `json:"name"`
	} `json:"params"`
}

// parseToolCalls decodes a JSON-RPC request body, single object or batch
// array, into its constituent requests. Bodies that are not valid JSON-RPC
// must not reach the gated handler, so an error here aborts the request.
func parseToolCalls(body []byte) ([]jsonrpcToolCall, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var batch []jsonrpcToolCall
		if err := json.Unmarshal(trimmed, &batch); err != nil {
			return nil, err
		}
		return batch, nil
	}
	var single jsonrpcToolCall
	if err := json.Unmarshal(trimmed, &single); err != nil {
		return nil, err
	}
	return []jsonrpcToolCall{single}, nil
}

// Middleware gates MCP tool calls behind the d402 payment protocol.
//
// Only tools/call requests for priced tools are gated; initialize,
// tools/list and calls to unpriced tools pass through untouched. Batch
// arrays are inspected element by element and gated on the priced
// tools/call they carry. Rejected calls are answered with HTTP 402 and
// the tool's payment requirements so the caller can construct a valid
// payment.
func Middleware(gate *Gate, lookup RequirementsLookup, testingMode bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodPost {
			c.Next()
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":       "failed to read request body",
				"d402Version": CurrentVersion,
			})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		calls, err := parseToolCalls(body)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":       "invalid JSON-RPC request body",
				"d402Version": CurrentVersion,
			})
			return
		}

		// Batch arrays are gated on their priced elements too; a batch
		// must never slip a paid tools/call past the gate.
		var toolName string
		var requirements *PaymentRequirements
		priced := 0
		for _, rpc := range calls {
			if rpc.Method != "tools/call" {
				continue
			}
			reqs, ok := lookup(rpc.Params.Name)
			if !ok {
				continue
			}
			priced++
			toolName = rpc.Params.Name
			requirements = reqs
		}
		if priced == 0 {
			c.Next()
			return
		}
		// One payment admits one call, so a batch carries at most one
		// paid tools/call.
		if priced > 1 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":       "batch requests may contain at most one paid tool call",
				"d402Version": CurrentVersion,
			})
			return
		}

		call := Call{
			Tool:          toolName,
			BearerToken:   bearerToken(c.GetHeader("Authorization")),
			PaymentHeader: c.GetHeader("X-PAYMENT"),
		}

		decision := gate.Evaluate(c.Request.Context(), call, requirements)
		if !decision.Admitted {
			log.Info().
				Str("tool", call.Tool).
				Str("reason", decision.RejectReason).
				Msg("payment required")
			c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{
				"error":       decision.RejectReason,
				"accepts":     []*PaymentRequirements{requirements},
				"d402Version": CurrentVersion,
			})
			return
		}

		c.Set(ContextKeyReason, decision.Reason)
		log.Info().
			Str("tool", call.Tool).
			Str("reason", string(decision.Reason)).
			Msg("call admitted")

		if decision.Reason != ReasonVerifiedPayment || testingMode {
			c.Next()
			return
		}

		// Capture the response so settlement failures can still turn
		// into a 402 instead of a half-written reply.
		writer := &bufferedWriter{ResponseWriter: c.Writer, body: &bytes.Buffer{}, statusCode: http.StatusOK}
		c.Writer = writer

		c.Next()

		if c.IsAborted() {
			c.Writer = writer.ResponseWriter
			flush(writer)
			return
		}

		settleResponse, err := gate.Settle(c.Request.Context(), decision.Payload, requirements)
		if err != nil || !settleResponse.Success {
			reason := "settlement failed"
			if err != nil {
				log.Error().Err(err).Str("tool", call.Tool).Msg("settlement failed")
			} else if settleResponse.ErrorReason != nil {
				reason = *settleResponse.ErrorReason
			}
			c.Writer = writer.ResponseWriter
			c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{
				"error":       reason,
				"accepts":     []*PaymentRequirements{requirements},
				"d402Version": CurrentVersion,
			})
			return
		}

		settleHeader, err := settleResponse.EncodeToBase64String()
		if err != nil {
			c.Writer = writer.ResponseWriter
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error":       err.Error(),
				"d402Version": CurrentVersion,
			})
			return
		}

		c.Header("X-Payment-Response", settleHeader)
		c.Writer = writer.ResponseWriter
		flush(writer)
	}
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if strings.HasPrefix(header, prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

func flush(w *bufferedWriter) {
	w.ResponseWriter.WriteHeader(w.statusCode)
	w.ResponseWriter.Write(w.body.Bytes()) //nolint:errcheck
}

// bufferedWriter holds back the handler's response until settlement
// succeeds.
type bufferedWriter struct {
	gin.ResponseWriter
	body       *bytes.Buffer
	statusCode int
	written    bool
}

func (w *bufferedWriter) WriteHeader(code int) {
	if !w.written {
		w.statusCode = code
		w.written = true
	}
}

func (w *bufferedWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.WriteHeader(http.StatusOK)
	}
	return w.body.Write(b)
}

func (w *bufferedWriter) WriteString(s string) (int, error) {
	if !w.written {
		w.WriteHeader(http.StatusOK)
	}
	return w.body.WriteString(s)
}
