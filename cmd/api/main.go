package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/kbkonsulting/Safe2Tow/internal/di"
	"github.com/kbkonsulting/Safe2Tow/internal/handlers"
	"github.com/kbkonsulting/Safe2Tow/internal/payments"
	"github.com/kbkonsulting/Safe2Tow/internal/platform/auth"
	"github.com/kbkonsulting/Safe2Tow/internal/platform/autodev"
	"github.com/kbkonsulting/Safe2Tow/internal/platform/config"
	pfirestore "github.com/kbkonsulting/Safe2Tow/internal/platform/firestore"
	"github.com/kbkonsulting/Safe2Tow/internal/platform/idempotency"
	"github.com/kbkonsulting/Safe2Tow/internal/platform/jobs"
	"github.com/kbkonsulting/Safe2Tow/internal/platform/metrics"
	"github.com/kbkonsulting/Safe2Tow/internal/platform/observability"
	"github.com/kbkonsulting/Safe2Tow/internal/platform/secrets"
	platformstorage "github.com/kbkonsulting/Safe2Tow/internal/platform/storage"
	"github.com/kbkonsulting/Safe2Tow/internal/repositories"
	firestoreRepo "github.com/kbkonsulting/Safe2Tow/internal/repositories/firestore"
	"github.com/kbkonsulting/Safe2Tow/internal/services"
)

// Set at build time with -ldflags "-X main.version=... -X main.commit=...".
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	if _, err := firestoreProvider.Client(ctx); err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}

	generator, err := di.NewGenerator(ctx, cfg.AI, logger.Named("gemini"))
	if err != nil {
		logger.Fatal("failed to initialise generative backend", zap.Error(err))
	}
	infra := di.Infrastructure{
		Generator: generator,
		Build:     buildInfo,
		Logger:    logger,
	}

	plateDecoder := autodev.New(autodev.Config{
		APIKey:     cfg.PlateDecoder.APIKey,
		Endpoint:   cfg.PlateDecoder.Endpoint,
		HTTPClient: &http.Client{Timeout: cfg.PlateDecoder.Timeout},
	})
	if plateDecoder.Configured() {
		infra.Plates = plateDecoder
	} else {
		logger.Info("plate decoder not configured; plate scans disabled")
	}

	var storageClient *cloudstorage.Client
	if cfg.Storage.ArchiveEnabled() {
		storageClient, err = cloudstorage.NewClient(ctx)
		if err != nil {
			logger.Fatal("failed to initialise storage client", zap.Error(err))
		}
		defer func() {
			if err := storageClient.Close(); err != nil {
				logger.Warn("storage close error", zap.Error(err))
			}
		}()
		writer, err := platformstorage.NewGCSWriter(storageClient)
		if err != nil {
			logger.Fatal("failed to initialise storage writer", zap.Error(err))
		}
		archive, err := platformstorage.NewArchive(writer, cfg.Storage.ScanBucket, platformstorage.WithPrefix(cfg.Storage.ScanPrefix))
		if err != nil {
			logger.Fatal("failed to initialise scan archive", zap.Error(err))
		}
		infra.Archive = archive
	}

	var searchTopic *pubsub.Topic
	if cfg.Events.PublishEnabled() {
		pubsubClient, err := pubsub.NewClient(ctx, cfg.Events.ProjectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
		searchTopic = pubsubClient.Topic(cfg.Events.TopicID)
		publisher, err := jobs.NewSearchEventPublisher(searchTopic)
		if err != nil {
			logger.Fatal("failed to initialise search event publisher", zap.Error(err))
		}
		defer publisher.Stop()
		infra.Events = publisher
	}

	stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
		APIKey:        cfg.PSP.StripeAPIKey,
		WebhookSecret: cfg.PSP.StripeWebhookSecret,
		Logger:        observability.EventLogger(logger.Named("payments")),
	})
	switch {
	case errors.Is(err, payments.ErrNotConfigured):
		logger.Warn("stripe not configured; membership purchases disabled")
	case err != nil:
		logger.Fatal("failed to initialise stripe payment provider", zap.Error(err))
	default:
		infra.Payments = stripeProvider
	}

	healthRepo, err := newHealthRepository(firestoreProvider, fetcher, storageClient, cfg, searchTopic)
	if err != nil {
		logger.Fatal("failed to initialise health checks", zap.Error(err))
	}
	registry, err := firestoreRepo.NewRegistry(firestoreProvider, healthRepo)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}

	container, err := di.NewContainer(ctx, cfg, registry, infra)
	if err != nil {
		logger.Fatal("failed to initialise services", zap.Error(err))
	}
	defer func() {
		if err := container.Close(); err != nil {
			logger.Warn("repository close error", zap.Error(err))
		}
	}()
	svc := container.Services

	idempotencyStore := idempotency.NewFirestoreStore(firestoreProvider)
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(logger.Named("idempotency")),
	)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	if cfg.Idempotency.CleanupInterval > 0 {
		cleanupWG.Add(1)
		go func() {
			defer cleanupWG.Done()
			runIdempotencyCleanup(cleanupCtx, idempotencyStore, cfg.Idempotency.CleanupInterval, logger.Named("idempotency"))
		}()
	}

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier, auth.WithLogger(logger.Named("auth")))

	towingHandlers := handlers.NewTowingHandlers(svc.Towing, svc.Vehicles,
		handlers.WithTowingAuthenticator(authenticator),
		handlers.WithTowingRateLimits(handlers.RateLimits{
			Anonymous:     cfg.RateLimits.DefaultPerMinute,
			Authenticated: cfg.RateLimits.AuthenticatedPerMinute,
			Lookup:        cfg.RateLimits.LookupPerMinute,
		}),
	)
	feedbackHandlers := handlers.NewFeedbackHandlers(authenticator, svc.Feedback, cfg.RateLimits.DefaultPerMinute)
	meHandlers := handlers.NewMeHandlers(authenticator, svc.Users)
	scanHandlers := handlers.NewScanHandlers(authenticator, svc.Scans, services.DefaultMaxScanBytes)
	membershipHandlers := handlers.NewMembershipHandlers(authenticator, svc.Membership, idempotencyMiddleware)
	webhookHandlers := handlers.NewWebhookHandlers(svc.Membership)
	maintenanceHandlers := handlers.NewMaintenanceHandlers(svc.Maintenance)

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(),
	}

	healthOpts := []handlers.HealthOption{handlers.WithHealthBuildInfo(buildInfo)}
	if svc.System != nil {
		healthOpts = append(healthOpts, handlers.WithHealthSystemService(svc.System))
	}

	opts := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(healthOpts...)),
		handlers.WithMetricsHandler(metrics.Handler()),
		handlers.WithPublicRoutes(towingHandlers.Routes, feedbackHandlers.Routes),
		handlers.WithMeRoutes(meHandlers.Routes),
		handlers.WithScanRoutes(scanHandlers.Routes),
		handlers.WithMembershipRoutes(membershipHandlers.Routes),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
		handlers.WithInternalRoutes(maintenanceHandlers.Routes),
	}
	if oidc := buildOIDCMiddleware(logger.Named("auth"), cfg); oidc != nil {
		opts = append(opts, handlers.WithInternalMiddlewares(oidc))
	}

	router := handlers.NewRouter(opts...)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("safe2tow api listening",
			zap.String("version", buildInfo.Version),
			zap.String("model", cfg.AI.Model),
			zap.Bool("plateScans", infra.Plates != nil),
			zap.Bool("payments", infra.Payments != nil),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	cleanupCancel()
	cleanupWG.Wait()

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func runIdempotencyCleanup(ctx context.Context, store *idempotency.FirestoreStore, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			runCtx, cancel := context.WithTimeout(ctx, time.Minute)
			removed, err := store.PurgeExpired(runCtx, time.Now().UTC())
			cancel()
			if err != nil {
				logger.Error("idempotency cleanup error", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Info("idempotency cleanup removed records", zap.Int("count", removed))
			}
		case <-ctx.Done():
			return
		}
	}
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	v := strings.TrimSpace(env["API_BUILD_VERSION"])
	if v == "" {
		v = version
	}
	sha := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if sha == "" {
		sha = commit
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     v,
		CommitSHA:   sha,
		Environment: environment,
		StartedAt:   started,
	}
}

// newHealthRepository builds the readiness checks. Only Firestore is required; the other
// dependencies degrade the report instead of failing it.
func newHealthRepository(provider *pfirestore.Provider, fetcher *secrets.Fetcher, storageClient *cloudstorage.Client, cfg config.Config, topic *pubsub.Topic) (repositories.HealthRepository, error) {
	checks := []repositories.DependencyCheck{{
		Name:    "firestore",
		Timeout: 1500 * time.Millisecond,
		Check: func(ctx context.Context) error {
			client, err := provider.Client(ctx)
			if err != nil {
				return err
			}
			_, err = client.Collections(ctx).Next()
			if errors.Is(err, iterator.Done) {
				return nil
			}
			return err
		},
	}}
	if fetcher != nil {
		const secretHealthReference = "secret://system/healthz"
		checks = append(checks, repositories.DependencyCheck{
			Name:     "secretManager",
			Timeout:  time.Second,
			Optional: true,
			Check: func(ctx context.Context) error {
				_, err := fetcher.Resolve(ctx, secretHealthReference)
				if err == nil || status.Code(errors.Unwrap(err)) == codes.NotFound {
					return nil
				}
				return err
			},
		})
	}
	if storageClient != nil {
		bucket := cfg.Storage.ScanBucket
		checks = append(checks, repositories.DependencyCheck{
			Name:     "scanArchive",
			Optional: true,
			Check: func(ctx context.Context) error {
				_, err := storageClient.Bucket(bucket).Attrs(ctx)
				return err
			},
		})
	}
	if topic != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:     "searchEvents",
			Optional: true,
			Check: func(ctx context.Context) error {
				ok, err := topic.Exists(ctx)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("topic %s does not exist", topic.ID())
				}
				return nil
			},
		})
	}
	return repositories.NewDependencyHealthRepository(checks)
}

func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	if strings.TrimSpace(cfg.Security.OIDC.JWKSURL) == "" {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cache := auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL)
	validator := auth.NewOIDCValidator(cache, logger)

	audience := strings.TrimSpace(cfg.Security.OIDC.Audience)
	if audience == "" {
		logger.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	}
	issuers := cfg.Security.OIDC.Issuers
	if len(issuers) == 0 {
		logger.Warn("auth: OIDC issuers not configured; any Google-signed issuer is accepted")
	}
	return validator.RequireOIDC(audience, issuers)
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}

	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if credentialsFile := lookup("API_FIREBASE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}
	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists the secrets the server refuses to start without. Stripe secrets
// become required once either of them is configured.
func requiredSecretNames(env map[string]string) []string {
	required := []string{"AI.APIKey"}
	if strings.TrimSpace(env["API_PSP_STRIPE_API_KEY"]) != "" || strings.TrimSpace(env["API_PSP_STRIPE_WEBHOOK_SECRET"]) != "" {
		required = append(required, "PSP.StripeAPIKey", "PSP.StripeWebhookSecret")
	}
	return required
}
