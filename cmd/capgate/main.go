package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"goa.design/clue/log"

	"goa.design/capgate/features/model/anthropic"
	"goa.design/capgate/features/model/middleware"
	"goa.design/capgate/features/model/openai"
	"goa.design/capgate/gateway"
	"goa.design/capgate/runtime/invoker"
	"goa.design/capgate/runtime/model"
	"goa.design/capgate/runtime/orchestrator"
	"goa.design/capgate/runtime/registry"
	"goa.design/capgate/runtime/telemetry"
)

func main() {
	var (
		portF       = flag.Int("port", 8080, "HTTP listen port")
		modelF      = flag.String("model", "", "Model identifier (defaults per provider)")
		providerF   = flag.String("provider", "", "Model provider: openai or anthropic (default: auto-detect from API keys)")
		iterationsF = flag.Int("max-iterations", orchestrator.DefaultMaxIterations, "Maximum model calls per chat request")
		tpmF        = flag.Float64("rate-limit-tpm", 0, "Tokens-per-minute budget for model calls (0 disables)")
		dbgF        = flag.Bool("debug", false, "Enable debug logs")
	)
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}

	client, err := newModelClient(*providerF, *modelF)
	if err != nil {
		log.Fatal(ctx, err)
	}
	if *tpmF > 0 {
		limiter := middleware.NewAdaptiveRateLimiter(*tpmF, *tpmF*2)
		client = limiter.Middleware()(client)
	}

	logger := telemetry.NewClueLogger()
	metrics := telemetry.NewClueMetrics()
	tracer := telemetry.NewClueTracer()

	reg := registry.New(registry.WithLogger(logger))
	inv := invoker.New(
		invoker.WithLogger(logger),
		invoker.WithMetrics(metrics),
		invoker.WithTracer(tracer),
	)
	orch := orchestrator.New(client, inv, reg,
		orchestrator.WithModel(*modelF),
		orchestrator.WithMaxIterations(*iterationsF),
		orchestrator.WithLogger(logger),
		orchestrator.WithMetrics(metrics),
		orchestrator.WithTracer(tracer),
	)

	cfg := gateway.DefaultConfig()
	cfg.Port = *portF
	cfg.Debug = *dbgF
	srv := gateway.New(reg, orch, cfg, logger)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(ctx); err != nil {
		log.Fatal(ctx, err)
	}
	log.Print(ctx, log.KV{K: "msg", V: "exited"})
}

// newModelClient picks the provider from the flag or, when unset, from which
// API key is present in the environment.
func newModelClient(provider, modelID string) (model.Client, error) {
	openaiKey := os.Getenv("OPENAI_API_KEY")
	anthropicKey := os.Getenv("ANTHROPIC_API_KEY")

	if provider == "" {
		switch {
		case openaiKey != "":
			provider = "openai"
		case anthropicKey != "":
			provider = "anthropic"
		default:
			return nil, errMissingProvider
		}
	}

	switch provider {
	case "openai":
		if modelID == "" {
			modelID = "gpt-4o"
		}
		return openai.NewFromAPIKey(openaiKey, modelID)
	case "anthropic":
		if modelID == "" {
			modelID = "claude-sonnet-4-20250514"
		}
		return anthropic.NewFromAPIKey(anthropicKey, modelID)
	default:
		return nil, errUnknownProvider(provider)
	}
}
