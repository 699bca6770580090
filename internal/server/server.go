// Package server composes the gateway: the gin shell, the d402 payment
// middleware, the MCP streamable HTTP transport, and the registered tools.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/phuslu/log"

	"github.com/traia-io/newsapi-mcp/internal/config"
	"github.com/traia-io/newsapi-mcp/internal/d402"
	"github.com/traia-io/newsapi-mcp/internal/tool"
)

// ServiceName identifies this server in health responses and facilitator
// tracking.
const ServiceName = "newsapi-mcp-server"

const serverVersion = "1.0.0"

// Server is the gateway shell. It owns the HTTP engine, the tool registry,
// and the process lifecycle.
type Server struct {
	cfg        *config.Config
	registry   *tool.Registry
	dispatcher *tool.Dispatcher
	gate       *d402.Gate
	engine     *gin.Engine
	mcpServer  *mcpsdk.Server
}

// New wires the gateway together. The verifier defaults to the facilitator
// client, or the testing verifier when TestingMode is set.
func New(cfg *config.Config, registry *tool.Registry) *Server {
	var verifier d402.Verifier
	if cfg.TestingMode {
		verifier = d402.TestingVerifier{}
	} else {
		verifier = d402.NewFacilitatorClient(cfg.FacilitatorURL, cfg.FacilitatorAPIKey)
	}
	return NewWithVerifier(cfg, registry, verifier)
}

// NewWithVerifier wires the gateway with an explicit verification
// collaborator.
func NewWithVerifier(cfg *config.Config, registry *tool.Registry, verifier d402.Verifier) *Server {
	s := &Server{
		cfg:        cfg,
		registry:   registry,
		dispatcher: tool.NewDispatcher(),
		gate:       d402.NewGate(cfg.APIKey, verifier),
	}

	s.mcpServer = mcpsdk.NewServer(&mcpsdk.Implementation{
		Name:    ServiceName,
		Version: serverVersion,
	}, nil)
	for _, name := range registry.Names() {
		desc, _ := registry.Lookup(name)
		s.addTool(desc)
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), cors(), requestID())

	engine.GET("/health", s.health)

	mcpHandler := mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server {
		return s.mcpServer
	}, nil)
	gated := engine.Group("/mcp", d402.Middleware(s.gate, s.requirementsFor, cfg.TestingMode))
	gated.Match([]string{http.MethodGet, http.MethodPost, http.MethodDelete}, "", gin.WrapH(mcpHandler))

	s.engine = engine
	return s
}

// Handler exposes the composed HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// health reports liveness. It is registered outside the gated group and is
// never subject to the payment middleware.
func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"service":   ServiceName,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// requirementsFor resolves the payment requirements for a priced tool.
func (s *Server) requirementsFor(name string) (*d402.PaymentRequirements, bool) {
	desc, ok := s.registry.Lookup(name)
	if !ok || desc.Price == nil {
		return nil, false
	}
	return d402.RequirementsFor(desc.Name, desc.Price, s.cfg.ServerAddress, desc.Description), true
}

// addTool exposes a registry descriptor as an MCP tool. Errors from the
// dispatcher are mapped to tool results, never to transport failures:
// validation problems become error results, upstream failures become a
// structured error payload the way the upstream tools report them.
func (s *Server) addTool(desc *tool.Descriptor) {
	s.mcpServer.AddTool(&mcpsdk.Tool{
		Name:        desc.Name,
		Description: desc.Description,
		InputSchema: desc.InputSchema,
	}, func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		args := make(map[string]any)
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
				return errorResult(fmt.Sprintf("failed to unmarshal arguments: %v", err)), nil
			}
		}

		result, err := s.dispatcher.Invoke(ctx, desc, args)
		if err != nil {
			if errors.Is(err, tool.ErrValidation) {
				return errorResult(err.Error()), nil
			}
			log.Error().Err(err).Str("tool", desc.Name).Msg("upstream call failed")
			result = map[string]any{
				"error":    err.Error(),
				"endpoint": desc.Endpoint,
			}
		}

		return dataResult(result)
	})
}

func errorResult(message string) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{
		IsError: true,
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: message}},
	}
}

func dataResult(data map[string]any) (*mcpsdk.CallToolResult, error) {
	text, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("server: failed to marshal tool result: %w", err)
	}
	return &mcpsdk.CallToolResult{
		Content:           []mcpsdk.Content{&mcpsdk.TextContent{Text: string(text)}},
		StructuredContent: data,
	}, nil
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.Port),
		Handler: s.engine,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	log.Info().Int("port", s.cfg.Port).Msg("server listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
