// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package handler

import (
	"testing"
	"time"

	"github.com/AccelByte/extend-dwell-rewards/pkg/account"
	"github.com/AccelByte/extend-dwell-rewards/pkg/common/commontest"
	"github.com/AccelByte/extend-dwell-rewards/pkg/incentive"
	"github.com/AccelByte/extend-dwell-rewards/pkg/policy"
	"github.com/AccelByte/extend-dwell-rewards/pkg/presence"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

type testDeps struct {
	mr      *miniredis.Miniredis
	client  *redis.Client
	clock   *commontest.FakeClock
	store   *account.RedisStore
	manager *presence.Manager
}

// setupTestDeps wires a presence manager and account store on miniredis
func setupTestDeps(t *testing.T) *testDeps {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clock := commontest.NewFakeClock(time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC))
	store := account.NewRedisStore(client, clock)
	manager := presence.NewManager(presence.Options{
		Store:      store,
		Policies:   policy.NewHolder(policy.Default(), ""),
		Clock:      clock,
		Onboarding: incentive.NewOnboarding(store, nil),
	})
	return &testDeps{mr: mr, client: client, clock: clock, store: store, manager: manager}
}
