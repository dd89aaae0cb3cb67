// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 15 * time.Second

// Run starts the application and blocks until a shutdown signal is received.
// SIGHUP reloads the reward policy without restarting.
func (a *App) Run(ctx context.Context) error {
	if err := a.httpServer.Start(ctx); err != nil {
		return err
	}
	if err := a.grpcServer.Start(ctx); err != nil {
		return err
	}
	if err := a.metricsServer.Start(ctx); err != nil {
		return err
	}

	workerCtx, cancel := context.WithCancel(ctx)
	a.cancelWorkers = cancel
	a.workersDone = make(chan struct{})
	go a.runWorkers(workerCtx)

	logrus.Info("application started successfully")

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	for {
		select {
		case <-hup:
			a.reloadPolicy()
		case <-ctx.Done():
			logrus.Info("shutdown signal received")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return a.Shutdown(shutdownCtx)
		}
	}
}

// runWorkers runs the tick scheduler and the presence subscriber until ctx ends.
func (a *App) runWorkers(ctx context.Context) {
	defer close(a.workersDone)

	subDone := make(chan struct{})
	go func() {
		defer close(subDone)
		if err := a.subscriber.Run(ctx); err != nil {
			logrus.Errorf("presence subscriber exited: %v", err)
		}
	}()

	a.scheduler.Run(ctx)
	<-subDone
}

func (a *App) reloadPolicy() {
	if err := a.policies.Reload(); err != nil {
		logrus.Errorf("policy reload rejected, keeping current policy: %v", err)
		return
	}
	logrus.Infof("reward policy reloaded")
}

// Shutdown gracefully shuts down all application components.
//
// Components are shut down in reverse dependency order:
// 1. Stop accepting new requests (HTTP, gRPC, metrics servers)
// 2. Stop the tick scheduler and presence subscriber
// 3. Flush presence state to the account store
// 4. Close Redis
// 5. Flush telemetry data
//
// Shutdown errors are logged but don't stop the shutdown sequence.
func (a *App) Shutdown(ctx context.Context) error {
	logrus.Info("shutting down application...")

	if err := a.httpServer.Shutdown(ctx); err != nil {
		logrus.Errorf("http server shutdown error: %v", err)
	}
	if err := a.grpcServer.Shutdown(ctx); err != nil {
		logrus.Errorf("gRPC server shutdown error: %v", err)
	}
	if err := a.metricsServer.Shutdown(ctx); err != nil {
		logrus.Errorf("metrics server shutdown error: %v", err)
	}

	if a.cancelWorkers != nil {
		a.cancelWorkers()
		select {
		case <-a.workersDone:
		case <-ctx.Done():
			logrus.Warnf("timed out waiting for background workers")
		}
	}

	a.manager.Stop(ctx)

	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			logrus.Errorf("Redis close error: %v", err)
		}
	}

	if a.shutdownTelemetry != nil {
		if err := a.shutdownTelemetry(ctx); err != nil {
			logrus.Errorf("telemetry shutdown error: %v", err)
		}
	}

	logrus.Info("application shutdown complete")
	return nil
}
