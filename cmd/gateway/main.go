// Command gateway runs the chat gateway: Gateway.ContextAssembler and
// Gateway.Router over the pluggable LLM provider plug-ins, exposed over
// the authenticated HTTP/SSE surface in internal/gatewayapi.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/manifold-labs/chatmemory/internal/assembler"
	"github.com/manifold-labs/chatmemory/internal/authn"
	"github.com/manifold-labs/chatmemory/internal/bus"
	"github.com/manifold-labs/chatmemory/internal/config"
	"github.com/manifold-labs/chatmemory/internal/gatewayapi"
	"github.com/manifold-labs/chatmemory/internal/llm"
	"github.com/manifold-labs/chatmemory/internal/memstore"
	"github.com/manifold-labs/chatmemory/internal/observability"
	"github.com/manifold-labs/chatmemory/internal/providers/anthropicprov"
	"github.com/manifold-labs/chatmemory/internal/providers/geminiprov"
	"github.com/manifold-labs/chatmemory/internal/providers/openaiprov"
	"github.com/manifold-labs/chatmemory/internal/router"
	"github.com/manifold-labs/chatmemory/internal/threadstore"
)

const basePrompt = "You are a helpful assistant with access to the user's prior conversations and saved preferences."

func main() {
	cfg := config.LoadGateway()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	observability.InitLogger("", "info")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.InitOTel(ctx, cfg.Obs)
	if err != nil {
		log.Fatal().Err(err).Msg("gateway_otel_init_failed")
	}
	defer func() {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownOTel(shutCtx)
	}()

	sharedBus := bus.New(cfg.Redis)
	defer sharedBus.Close()

	httpClient := observability.NewHTTPClient(http.DefaultClient)

	var threadStore threadstore.Store
	if cfg.ThreadDB != "" {
		pool, err := memstore.OpenPool(ctx, cfg.ThreadDB)
		if err != nil {
			log.Fatal().Err(err).Msg("gateway_thread_db_connect_failed")
		}
		threadStore = threadstore.NewPostgresStore(pool)
	} else {
		threadStore = threadstore.NewMemoryStore()
	}
	if err := threadStore.Init(ctx); err != nil {
		log.Fatal().Err(err).Msg("gateway_thread_store_init_failed")
	}
	defer threadStore.Close()

	var authVerifier *authn.Verifier
	if cfg.Auth.Enabled {
		authVerifier, err = authn.New(ctx, cfg.Auth)
		if err != nil {
			log.Fatal().Err(err).Msg("gateway_authn_init_failed")
		}
	}

	defaultProvider, defaultModel := resolveDefaultProvider(cfg, httpClient)
	highComplexity, highComplexityModel := resolveHighComplexityProvider(cfg, httpClient)
	visionProvider, visionModel := resolveVisionProvider(cfg, httpClient)

	r := router.New(defaultProvider, defaultModel, highComplexity, highComplexityModel, visionProvider, visionModel)

	memoryClient := assembler.NewMemoryClient(cfg.MemoryServiceURL, httpClient)
	asm := assembler.New(memoryClient, sharedBus, basePrompt, cfg.Context)

	app := gatewayapi.New(asm, r, threadStore, authVerifier, sharedBus, httpClient, cfg.MemoryServiceURL, cfg.Context)

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           gatewayapi.NewMux(app),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("gateway_listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("gateway_listen_failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("gateway_shutting_down")
	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutCtx)
}

func resolveDefaultProvider(cfg config.GatewayConfig, httpClient *http.Client) (llm.Provider, string) {
	if cfg.OpenAI.APIKey != "" {
		return openaiprov.New(cfg.OpenAI, httpClient), firstNonEmpty(cfg.DefaultModel, cfg.OpenAI.Model)
	}
	if cfg.Anthropic.APIKey != "" {
		return anthropicprov.New(cfg.Anthropic, httpClient), firstNonEmpty(cfg.DefaultModel, cfg.Anthropic.Model)
	}
	if cfg.Gemini.APIKey != "" {
		c, err := geminiprov.New(cfg.Gemini, httpClient)
		if err != nil {
			log.Fatal().Err(err).Msg("gateway_gemini_init_failed")
		}
		return c, firstNonEmpty(cfg.DefaultModel, cfg.Gemini.Model)
	}
	log.Fatal().Msg("gateway_no_default_provider_configured")
	return nil, ""
}

func resolveHighComplexityProvider(cfg config.GatewayConfig, httpClient *http.Client) (llm.Provider, string) {
	if cfg.Anthropic.APIKey != "" {
		return anthropicprov.New(cfg.Anthropic, httpClient), firstNonEmpty(cfg.HighComplexityModel, cfg.Anthropic.Model)
	}
	return nil, ""
}

func resolveVisionProvider(cfg config.GatewayConfig, httpClient *http.Client) (llm.Provider, string) {
	if cfg.Gemini.APIKey != "" {
		c, err := geminiprov.New(cfg.Gemini, httpClient)
		if err != nil {
			log.Warn().Err(err).Msg("gateway_vision_provider_init_failed")
			return nil, ""
		}
		return c, cfg.Gemini.Model
	}
	return nil, ""
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
