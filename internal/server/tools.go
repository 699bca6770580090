package server

import (
	"encoding/json"

	"github.com/traia-io/newsapi-mcp/internal/d402"
	"github.com/traia-io/newsapi-mcp/internal/newsapi"
	"github.com/traia-io/newsapi-mcp/internal/tool"
)

// searchEverythingPrice is the declared price of a search_everything call:
// 0.002 of the 6-decimal IATP settlement token on sepolia.
var searchEverythingPrice = &d402.TokenAmount{
	Amount: "2000",
	Asset: d402.TokenAsset{
		Address:  "0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238",
		Decimals: 6,
		Network:  "sepolia",
		EIP712:   &d402.EIP712Domain{Name: "IATPWallet", Version: "1"},
	},
}

// searchEverythingSchema is served to MCP clients and enforced by the
// dispatcher. NewsAPI requires at least one of q, sources, or domains.
var searchEverythingSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"q": {
			"type": "string",
			"description": "Keywords or phrases to search for in the article title and body. Advanced search operators are supported."
		},
		"qInTitle": {
			"type": "string",
			"description": "Keywords or phrases to search for in the article title only."
		},
		"sources": {
			"type": "string",
			"description": "Comma-separated source IDs (maximum 20)."
		},
		"domains": {
			"type": "string",
			"description": "Comma-separated domain names to restrict the search to."
		},
		"excludeDomains": {
			"type": "string",
			"description": "Comma-separated domain names to exclude from the results."
		},
		"from_": {
			"type": "string",
			"description": "Start date/time in ISO 8601."
		},
		"to": {
			"type": "string",
			"description": "End date/time in ISO 8601."
		},
		"language": {
			"type": "string",
			"description": "2-letter language code to narrow articles.",
			"default": "en"
		},
		"sortBy": {
			"type": "string",
			"description": "Sort order for results.",
			"enum": ["publishedAt", "relevancy", "popularity"],
			"default": "publishedAt"
		},
		"searchIn": {
			"type": "string",
			"description": "Comma-separated fields to restrict the search to."
		},
		"pageSize": {
			"type": "integer",
			"description": "Number of results per page.",
			"minimum": 1,
			"maximum": 100,
			"default": 20
		},
		"page": {
			"type": "integer",
			"description": "Page number.",
			"minimum": 1,
			"default": 1
		}
	},
	"anyOf": [
		{"required": ["q"]},
		{"required": ["sources"]},
		{"required": ["domains"]}
	],
	"additionalProperties": false
}`)

// DefaultRegistry registers every tool this gateway serves against the
// given NewsAPI client.
func DefaultRegistry(client *newsapi.Client) (*tool.Registry, error) {
	registry := tool.NewRegistry()

	err := registry.Register(&tool.Descriptor{
		Name:        "search_everything",
		Description: "Search through millions of articles. NewsAPI requirement: you must provide at least one of: q, sources, or domains.",
		Endpoint:    "/everything",
		Price:       searchEverythingPrice,
		InputSchema: searchEverythingSchema,
		Params: []tool.Param{
			{Name: "q", Type: "string"},
			{Name: "qInTitle", Type: "string"},
			{Name: "sources", Type: "string"},
			{Name: "domains", Type: "string"},
			{Name: "excludeDomains", Type: "string"},
			{Name: "from_", Type: "string", UpstreamName: "from"},
			{Name: "to", Type: "string"},
			{Name: "language", Type: "string", Default: "en"},
			{Name: "sortBy", Type: "string", Default: "publishedAt"},
			{Name: "searchIn", Type: "string"},
			{Name: "pageSize", Type: "integer", Default: 20},
			{Name: "page", Type: "integer", Default: 1},
		},
		Handler: client.Everything,
	})
	if err != nil {
		return nil, err
	}

	return registry, nil
}
