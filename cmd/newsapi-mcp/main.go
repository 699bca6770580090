// Command newsapi-mcp serves the NewsAPI search endpoint as a d402
// payment-gated MCP tool.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/phuslu/log"

	"github.com/traia-io/newsapi-mcp/internal/config"
	"github.com/traia-io/newsapi-mcp/internal/newsapi"
	"github.com/traia-io/newsapi-mcp/internal/server"
)

func main() {
	// A missing .env is fine; the environment may be set directly.
	_ = godotenv.Load()

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	log.DefaultLogger = log.Logger{
		Level:  log.ParseLevel(cfg.LogLevel),
		Writer: &log.ConsoleWriter{Writer: os.Stderr},
	}

	log.Info().
		Str("service", server.ServiceName).
		Str("api", newsapi.DefaultBaseURL).
		Str("payment_address", cfg.ServerAddress).
		Str("network", cfg.Network).
		Bool("api_key_set", cfg.APIKey != "").
		Bool("operator_key_set", cfg.OperatorPrivateKey != "").
		Bool("testing_mode", cfg.TestingMode).
		Str("facilitator", cfg.FacilitatorURL).
		Msg("starting newsapi-mcp server")
	if cfg.APIKey == "" {
		log.Warn().Msg("TEST_NEWSAPI_MCP_API_KEY not set - payment required for all requests")
	}
	if cfg.TestingMode {
		log.Warn().Msg("testing mode enabled - facilitator bypassed")
	}

	registry, err := server.DefaultRegistry(newsapi.NewClient("", cfg.APIKey))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to register tools")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(cfg, registry)
	if err := srv.Run(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server failed")
	}
}
