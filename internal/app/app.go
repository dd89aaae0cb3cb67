// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package app

import (
	"context"
	"fmt"
	"time"

	"github.com/AccelByte/extend-dwell-rewards/internal/bootstrap"
	"github.com/AccelByte/extend-dwell-rewards/internal/config"
	"github.com/AccelByte/extend-dwell-rewards/internal/server"
	"github.com/AccelByte/extend-dwell-rewards/pkg/account"
	"github.com/AccelByte/extend-dwell-rewards/pkg/common"
	"github.com/AccelByte/extend-dwell-rewards/pkg/handler"
	"github.com/AccelByte/extend-dwell-rewards/pkg/notify"
	"github.com/AccelByte/extend-dwell-rewards/pkg/policy"
	"github.com/AccelByte/extend-dwell-rewards/pkg/presence"
	"github.com/AccelByte/extend-dwell-rewards/pkg/tick"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// App holds all application dependencies and manages the application lifecycle.
type App struct {
	cfg               *config.Config
	redisClient       *redis.Client
	policies          *policy.Holder
	manager           *presence.Manager
	scheduler         *tick.Scheduler
	subscriber        *handler.Subscriber
	httpServer        *server.HTTPServer
	grpcServer        *server.GRPCServer
	metricsServer     *server.MetricsServer
	shutdownTelemetry func(context.Context) error

	cancelWorkers context.CancelFunc
	workersDone   chan struct{}
}

// New creates and initializes a new application instance.
//
// Components are initialized in dependency order:
// 1. Redis (account store, pub/sub)
// 2. Reward policy
// 3. Notifier and incentive evaluators
// 4. Presence manager and tick scheduler
// 5. Ingress (HTTP API, presence subscriber)
// 6. Servers (HTTP, gRPC, metrics)
// 7. Telemetry (OpenTelemetry tracing)
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	logrus.Info("initializing application...")

	app := &App{cfg: cfg}

	if err := app.initRedis(ctx); err != nil {
		return nil, fmt.Errorf("failed to init Redis: %w", err)
	}

	policies, err := bootstrap.InitPolicy(cfg.PolicyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load reward policy from %s: %w", cfg.PolicyPath, err)
	}
	app.policies = policies

	clock := common.SystemClock{}
	store := account.NewRedisStore(app.redisClient, clock)
	notifier := bootstrap.InitNotifier(app.redisClient, cfg.NotifyRedis)
	evaluators := bootstrap.InitEvaluators(store, notifier)

	var publisher bootstrap.ArrivalPublisher
	if cfg.NotifyRedis {
		publisher = notify.NewRedisNotifier(app.redisClient)
	}
	app.manager = bootstrap.InitPresenceManager(store, policies, clock, evaluators.Onboarding, publisher)
	app.scheduler = bootstrap.InitScheduler(app.manager, store, policies, clock, evaluators, cfg.TickWorkers)

	health := account.NewHealthChecker(app.redisClient)
	api := handler.NewAPI(app.manager, store, health)
	app.subscriber = handler.NewSubscriber(app.redisClient, app.manager, cfg.PresenceChannel)

	app.httpServer = server.NewHTTPServer(cfg.HTTPPort, api.Routes())

	app.grpcServer = server.NewGRPCServer(cfg.GRPCPort, health)
	if err := app.grpcServer.Setup(); err != nil {
		return nil, fmt.Errorf("failed to setup gRPC server: %w", err)
	}

	app.metricsServer = server.NewMetricsServer(cfg.MetricsPort, "/metrics")
	if err := app.metricsServer.Setup(); err != nil {
		return nil, fmt.Errorf("failed to setup metrics server: %w", err)
	}

	if cfg.OtelEnabled {
		shutdown, err := server.SetupTelemetry(ctx, cfg.ServiceName, cfg.Environment, cfg.ZipkinEndpoint, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to setup telemetry: %w", err)
		}
		app.shutdownTelemetry = shutdown
	}

	logrus.Info("application initialized successfully")
	return app, nil
}

func (a *App) initRedis(ctx context.Context) error {
	client, err := account.InitRedisClient(ctx, account.ClientOptions{
		Addr:       a.cfg.RedisAddr(),
		Password:   a.cfg.RedisPassword,
		DB:         a.cfg.RedisDB,
		MaxRetries: a.cfg.RedisMaxRetries,
		RetryDelay: time.Duration(a.cfg.RedisRetryDelayMs) * time.Millisecond,
	})
	if err != nil {
		return err
	}
	a.redisClient = client
	return nil
}
