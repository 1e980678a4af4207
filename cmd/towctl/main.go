// Command towctl runs towing lookups, vehicle suggestions and image scans against the
// generative backend from a terminal.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/kbkonsulting/Safe2Tow/internal/di"
	"github.com/kbkonsulting/Safe2Tow/internal/platform/config"
	"github.com/kbkonsulting/Safe2Tow/internal/platform/observability"
	"github.com/kbkonsulting/Safe2Tow/internal/platform/secrets"
	"github.com/kbkonsulting/Safe2Tow/internal/towing"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := observability.NewLoggerWithLevel(os.Getenv("TOWCTL_LOG_LEVEL"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	a := &app{
		logger:    logger.Named("towctl"),
		generator: geminiGenerator(logger.Named("gemini")),
	}
	cmd := newRootCommand(a)
	if err := cmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// geminiGenerator loads the API_* configuration without server requirements and builds the
// Gemini adapter. secret:// references resolve through Secret Manager or .secrets.local.
func geminiGenerator(logger *zap.Logger) func(context.Context) (towing.Generator, error) {
	return func(ctx context.Context) (towing.Generator, error) {
		env, err := config.EnvironmentValues()
		if err != nil {
			return nil, fmt.Errorf("read environment: %w", err)
		}
		fetcher, err := secrets.NewFetcher(ctx,
			secrets.WithLogger(logger.Named("secrets")),
			secrets.WithDefaultProject(strings.TrimSpace(env["API_FIREBASE_PROJECT_ID"])),
		)
		if err != nil {
			return nil, fmt.Errorf("initialise secret fetcher: %w", err)
		}
		defer fetcher.Close()

		cfg, err := config.Load(ctx,
			config.WithCLIScope(),
			config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
			config.WithRequiredSecrets("AI.APIKey"),
		)
		if err != nil {
			return nil, fmt.Errorf("load configuration: %w", err)
		}
		return di.NewGenerator(ctx, cfg.AI, logger)
	}
}
