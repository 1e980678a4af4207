package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kbkonsulting/Safe2Tow/internal/payments"
	"github.com/kbkonsulting/Safe2Tow/internal/platform/config"
	"github.com/kbkonsulting/Safe2Tow/internal/platform/gemini"
	"github.com/kbkonsulting/Safe2Tow/internal/platform/metrics"
	"github.com/kbkonsulting/Safe2Tow/internal/platform/observability"
	"github.com/kbkonsulting/Safe2Tow/internal/repositories"
	"github.com/kbkonsulting/Safe2Tow/internal/services"
	"github.com/kbkonsulting/Safe2Tow/internal/towing"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Towing      services.TowingService
	Vehicles    services.VehicleService
	Scans       services.ScanService
	Feedback    services.FeedbackService
	Users       services.UserService
	Membership  services.MembershipService
	System      services.SystemService
	Maintenance services.MaintenanceService
}

// Infrastructure carries the external adapters built by the caller. Generator is required;
// every other field is optional and the dependent feature degrades without it.
type Infrastructure struct {
	Generator towing.Generator
	Plates    services.PlateDecoder
	Archive   services.ScanArchive
	Events    services.SearchEventPublisher
	Payments  payments.Provider
	// Health overrides the registry's health repository.
	Health repositories.HealthRepository
	Build  services.BuildInfo
	Logger *zap.Logger
	Clock  func() time.Time
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring passes the Firestore
// registry; tests can supply in-memory registries.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, infra Infrastructure) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}
	if infra.Generator == nil {
		return nil, errors.New("generator is required")
	}

	svc, err := buildServices(ctx, reg, cfg, infra)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases repository clients.
func (c *Container) Close() error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close()
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, infra Infrastructure) (Services, error) {
	logger := infra.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := infra.Clock
	if clock == nil {
		clock = time.Now
	}
	var svc Services

	core := infra.Generator
	advisor, err := towing.NewAdvisor(core)
	if err != nil {
		return Services{}, fmt.Errorf("build towing advisor: %w", err)
	}
	vision, err := towing.NewVision(core)
	if err != nil {
		return Services{}, fmt.Errorf("build vision extractor: %w", err)
	}
	normalizer, err := towing.NewNormalizer(core, towing.WithNormalizerLogger(observability.EventLogger(logger.Named("vehicles"))))
	if err != nil {
		return Services{}, fmt.Errorf("build vehicle normalizer: %w", err)
	}

	towingSvc, err := services.NewTowingService(services.TowingServiceDeps{
		Advisor:    advisor,
		SearchLogs: reg.SearchLogs(),
		Events:     infra.Events,
		Clock:      clock,
		Logger:     observability.EventLogger(logger.Named("towing")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build towing service: %w", err)
	}
	svc.Towing = towingSvc

	vehicleSvc, err := services.NewVehicleService(services.VehicleServiceDeps{Normalizer: normalizer})
	if err != nil {
		return Services{}, fmt.Errorf("build vehicle service: %w", err)
	}
	svc.Vehicles = vehicleSvc

	scanSvc, err := services.NewScanService(services.ScanServiceDeps{
		Users:   reg.Users(),
		Vision:  vision,
		Towing:  towingSvc,
		Plates:  infra.Plates,
		Archive: infra.Archive,
		Logger:  observability.EventLogger(logger.Named("scans")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build scan service: %w", err)
	}
	svc.Scans = scanSvc

	feedbackSvc, err := services.NewFeedbackService(services.FeedbackServiceDeps{
		Feedback: reg.Feedback(),
		Clock:    clock,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build feedback service: %w", err)
	}
	svc.Feedback = feedbackSvc

	userSvc, err := services.NewUserService(services.UserServiceDeps{
		Users:        reg.Users(),
		SearchLogs:   reg.SearchLogs(),
		Clock:        clock,
		DevProToggle: cfg.Features.DevProToggle,
		Logger:       observability.EventLogger(logger.Named("users")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build user service: %w", err)
	}
	svc.Users = userSvc

	membershipSvc, err := services.NewMembershipService(services.MembershipServiceDeps{
		Users:      reg.Users(),
		Payments:   infra.Payments,
		PriceCents: cfg.PSP.ProPriceCents,
		Currency:   cfg.PSP.Currency,
		Logger:     observability.EventLogger(logger.Named("membership")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build membership service: %w", err)
	}
	svc.Membership = membershipSvc

	health := infra.Health
	if health == nil {
		health = reg.Health()
	}
	if health != nil {
		build := infra.Build
		if build.Environment == "" {
			build.Environment = cfg.Security.Environment
		}
		if build.StartedAt.IsZero() {
			build.StartedAt = clock().UTC()
		}
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: health,
			Clock:            clock,
			Build:            build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	maintenanceSvc, err := services.NewMaintenanceService(services.MaintenanceServiceDeps{
		SearchLogs: reg.SearchLogs(),
		Retention:  cfg.Retention.SearchLogs,
		Clock:      clock,
		Logger:     observability.EventLogger(logger.Named("maintenance")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build maintenance service: %w", err)
	}
	svc.Maintenance = maintenanceSvc

	return svc, nil
}

// NewGenerator builds the Gemini-backed generator for cfg, wrapped with retries when
// cfg.AI enables them.
func NewGenerator(ctx context.Context, cfg config.AIConfig, logger *zap.Logger) (towing.Generator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	gen, err := gemini.New(ctx, gemini.Config{
		APIKey:  cfg.APIKey,
		Model:   cfg.Model,
		Timeout: cfg.Timeout,
		Logger:  observability.EventLogger(logger),
	})
	if err != nil {
		return nil, err
	}
	return WithRetryPolicy(gen, cfg, logger), nil
}

// WithRetryPolicy wraps gen with the retry policy from cfg. Retries are counted in
// BackendRetriesTotal.
func WithRetryPolicy(gen towing.Generator, cfg config.AIConfig, logger *zap.Logger) towing.Generator {
	if !cfg.RetryEnabled() {
		return gen
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return towing.WithRetry(gen, towing.RetryPolicy{
		MaxAttempts: cfg.RetryAttempts,
		Initial:     cfg.RetryInitial,
		Max:         cfg.RetryMax,
		Retryable:   gemini.IsRetryable,
		OnRetry: func(ctx context.Context, op towing.Operation, attempt int, err error) {
			metrics.BackendRetriesTotal.WithLabelValues(string(op)).Inc()
			logger.Info("retrying generative backend call",
				zap.String("operation", string(op)),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		},
	})
}
