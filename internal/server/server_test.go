package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/traia-io/newsapi-mcp/internal/config"
	"github.com/traia-io/newsapi-mcp/internal/newsapi"
)

const (
	testPaymentAddress = "0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238"
	testInternalKey    = "secret-key"
)

// upstreamDouble is a fake NewsAPI that records every request it serves.
type upstreamDouble struct {
	server   *httptest.Server
	requests []*http.Request
	response map[string]any
}

func newUpstreamDouble() *upstreamDouble {
	d := &upstreamDouble{
		response: map[string]any{
			"status":       "ok",
			"totalResults": float64(1),
			"articles":     []any{map[string]any{"title": "hello"}},
		},
	}
	d.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clone := r.Clone(r.Context())
		d.requests = append(d.requests, clone)
		json.NewEncoder(w).Encode(d.response)
	}))
	return d
}

func newTestGateway(t *testing.T, upstream *upstreamDouble) *httptest.Server {
	t.Helper()

	cfg := &config.Config{
		ServerAddress: testPaymentAddress,
		APIKey:        testInternalKey,
		TestingMode:   true,
		Network:       "sepolia",
		Port:          0,
		LogLevel:      "error",
	}

	registry, err := DefaultRegistry(newsapi.NewClient(upstream.server.URL, cfg.APIKey))
	if err != nil {
		t.Fatalf("Failed to build registry: %v", err)
	}

	gateway := httptest.NewServer(New(cfg, registry).Handler())
	t.Cleanup(gateway.Close)
	return gateway
}

// headerTransport injects fixed headers into every outgoing request.
type headerTransport struct {
	headers map[string]string
}

func (h headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range h.headers {
		req.Header.Set(k, v)
	}
	return http.DefaultTransport.RoundTrip(req)
}

func connectClient(t *testing.T, gatewayURL string, headers map[string]string) *mcpsdk.ClientSession {
	t.Helper()

	transport := &mcpsdk.StreamableClientTransport{
		Endpoint:   gatewayURL + "/mcp",
		HTTPClient: &http.Client{Transport: headerTransport{headers: headers}},
	}
	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "gateway-test-client", Version: "1.0.0"}, nil)

	session, err := client.Connect(context.Background(), transport, nil)
	if err != nil {
		t.Fatalf("Failed to connect MCP client: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func TestHealthBypassesGate(t *testing.T) {
	upstream := newUpstreamDouble()
	defer upstream.server.Close()
	gateway := newTestGateway(t, upstream)

	// No credential of any kind.
	resp, err := http.Get(gateway.URL + "/health")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got: %d", resp.StatusCode)
	}

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode health body: %v", err)
	}
	if body["status"] != "healthy" {
		t.Errorf("Expected status 'healthy', got: %v", body["status"])
	}
	if body["service"] != ServiceName {
		t.Errorf("Expected service %q, got: %v", ServiceName, body["service"])
	}
	if _, ok := body["timestamp"].(string); !ok {
		t.Errorf("Expected a timestamp, got: %v", body["timestamp"])
	}
}

func TestCORSPreflight(t *testing.T) {
	upstream := newUpstreamDouble()
	defer upstream.server.Close()
	gateway := newTestGateway(t, upstream)

	req, _ := http.NewRequest(http.MethodOptions, gateway.URL+"/mcp", nil)
	req.Header.Set("Origin", "https://example.com")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("Expected 204 for preflight, got: %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Expected allow-origin '*', got: %q", got)
	}
}

func TestToolCallWithoutCredentialIs402(t *testing.T) {
	upstream := newUpstreamDouble()
	defer upstream.server.Close()
	gateway := newTestGateway(t, upstream)

	body := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"search_everything","arguments":{"q":"ai"}}}`
	resp, err := http.Post(gateway.URL+"/mcp", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("Expected 402, got: %d", resp.StatusCode)
	}

	var payload struct {
		Error   string `json:"error"`
		Accepts []struct {
			MaxAmountRequired string `json:"maxAmountRequired"`
			Asset             string `json:"asset"`
			Network           string `json:"network"`
			PayTo             string `json:"payTo"`
		} `json:"accepts"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("Failed to decode 402 body: %v", err)
	}
	if len(payload.Accepts) != 1 {
		t.Fatalf("Expected one accepts entry, got: %d", len(payload.Accepts))
	}
	if payload.Accepts[0].MaxAmountRequired != "2000" {
		t.Errorf("Expected declared price '2000', got: %q", payload.Accepts[0].MaxAmountRequired)
	}
	if payload.Accepts[0].Asset != searchEverythingPrice.Asset.Address {
		t.Errorf("Expected declared asset, got: %q", payload.Accepts[0].Asset)
	}
	if payload.Accepts[0].PayTo != testPaymentAddress {
		t.Errorf("Expected payTo %q, got: %q", testPaymentAddress, payload.Accepts[0].PayTo)
	}

	if len(upstream.requests) != 0 {
		t.Errorf("Expected no upstream call for rejected request, got: %d", len(upstream.requests))
	}
}

func TestBatchToolCallWithoutCredentialIs402(t *testing.T) {
	upstream := newUpstreamDouble()
	defer upstream.server.Close()
	gateway := newTestGateway(t, upstream)

	// A JSON-RPC batch array wrapping the paid call must not slip past
	// the gate.
	body := `[{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"search_everything","arguments":{"q":"ai"}}}]`
	resp, err := http.Post(gateway.URL+"/mcp", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("Expected 402 for uncredentialed batch, got: %d", resp.StatusCode)
	}
	if len(upstream.requests) != 0 {
		t.Errorf("Expected no upstream call for rejected batch, got: %d", len(upstream.requests))
	}
}

func TestSearchEverythingWithAPIKey(t *testing.T) {
	upstream := newUpstreamDouble()
	defer upstream.server.Close()
	gateway := newTestGateway(t, upstream)

	session := connectClient(t, gateway.URL, map[string]string{
		"Authorization": "Bearer " + testInternalKey,
	})

	result, err := session.CallTool(context.Background(), &mcpsdk.CallToolParams{
		Name:      "search_everything",
		Arguments: map[string]any{"q": "ai"},
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("Expected success result, got error: %v", result.Content)
	}

	if len(upstream.requests) != 1 {
		t.Fatalf("Expected exactly one upstream call, got: %d", len(upstream.requests))
	}
	query := upstream.requests[0].URL.Query()
	if query.Get("q") != "ai" {
		t.Errorf("Expected q=ai, got: %q", query.Get("q"))
	}
	// Declared defaults are applied for omitted optional parameters.
	if query.Get("language") != "en" || query.Get("pageSize") != "20" || query.Get("page") != "1" {
		t.Errorf("Expected default language/pageSize/page, got: %v", query)
	}
	if got := upstream.requests[0].Header.Get("Authorization"); got != "Bearer "+testInternalKey {
		t.Errorf("Expected upstream bearer credential, got: %q", got)
	}

	// The upstream payload passes through unchanged.
	structured, ok := result.StructuredContent.(map[string]any)
	if !ok {
		t.Fatalf("Expected structured content map, got: %T", result.StructuredContent)
	}
	if diff := cmp.Diff(upstream.response, structured); diff != "" {
		t.Errorf("Result mismatch (-want +got):\n%s", diff)
	}
}

func TestIdenticalCallsEachReachUpstream(t *testing.T) {
	upstream := newUpstreamDouble()
	defer upstream.server.Close()
	gateway := newTestGateway(t, upstream)

	session := connectClient(t, gateway.URL, map[string]string{
		"Authorization": "Bearer " + testInternalKey,
	})

	for i := 0; i < 2; i++ {
		if _, err := session.CallTool(context.Background(), &mcpsdk.CallToolParams{
			Name:      "search_everything",
			Arguments: map[string]any{"q": "ai"},
		}); err != nil {
			t.Fatalf("Unexpected error on call %d: %v", i+1, err)
		}
	}

	if len(upstream.requests) != 2 {
		t.Errorf("Expected two upstream calls for two identical requests, got: %d", len(upstream.requests))
	}
}

func TestMissingRequiredParamRejectedBeforeUpstream(t *testing.T) {
	upstream := newUpstreamDouble()
	defer upstream.server.Close()
	gateway := newTestGateway(t, upstream)

	session := connectClient(t, gateway.URL, map[string]string{
		"Authorization": "Bearer " + testInternalKey,
	})

	// None of q, sources, domains provided. The call is rejected either by
	// the SDK's schema validation or by the dispatcher; both surface as an
	// error to the caller and neither reaches the upstream.
	result, err := session.CallTool(context.Background(), &mcpsdk.CallToolParams{
		Name:      "search_everything",
		Arguments: map[string]any{"language": "en"},
	})
	if err == nil && !result.IsError {
		t.Fatal("Expected rejection for missing required parameter")
	}
	if len(upstream.requests) != 0 {
		t.Errorf("Expected no upstream call, got: %d", len(upstream.requests))
	}
}

func TestToolsListIsFree(t *testing.T) {
	upstream := newUpstreamDouble()
	defer upstream.server.Close()
	gateway := newTestGateway(t, upstream)

	// No credential at all; listing tools must not be gated.
	session := connectClient(t, gateway.URL, nil)

	tools, err := session.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(tools.Tools) != 1 || tools.Tools[0].Name != "search_everything" {
		t.Errorf("Expected the search_everything tool to be listed, got: %+v", tools.Tools)
	}
}
