// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package presence

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AccelByte/extend-dwell-rewards/pkg/account"
	"github.com/AccelByte/extend-dwell-rewards/pkg/common/commontest"
	"github.com/AccelByte/extend-dwell-rewards/pkg/incentive"
	"github.com/AccelByte/extend-dwell-rewards/pkg/policy"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

var testStart = time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	manager *Manager
	store   *account.RedisStore
	clock   *commontest.FakeClock
	policy  *policy.Policy
	client  *redis.Client
	arrived int32
}

func setupTestManager(t *testing.T, mutate func(p *policy.Policy)) *testEnv {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	p := policy.Default()
	if mutate != nil {
		mutate(p)
	}
	if err := p.Validate(); err != nil {
		t.Fatalf("invalid test policy: %v", err)
	}

	env := &testEnv{
		clock:  commontest.NewFakeClock(testStart),
		policy: p,
		client: client,
	}
	env.store = account.NewRedisStore(client, env.clock)
	env.manager = env.newManager()
	return env
}

func (e *testEnv) newManager() *Manager {
	return NewManager(Options{
		Store:      e.store,
		Policies:   policy.NewHolder(e.policy, ""),
		Clock:      e.clock,
		Onboarding: incentive.NewOnboarding(e.store, nil),
		Hooks: []ArrivalHook{func(ctx context.Context, a incentive.Arrival) {
			atomic.AddInt32(&e.arrived, 1)
		}},
	})
}

func (e *testEnv) account(t *testing.T, username string) *account.Account {
	t.Helper()
	acc, err := e.store.GetAccount(context.Background(), account.NewKey(username, "lobby"))
	if err != nil {
		t.Fatalf("GetAccount() error = %v", err)
	}
	return acc
}

func TestHandleArrival_DuplicateIsNoop(t *testing.T) {
	env := setupTestManager(t, nil)
	ctx := context.Background()

	genuine, err := env.manager.HandleArrival(ctx, "Alice", "lobby")
	if err != nil || !genuine {
		t.Fatalf("first HandleArrival() = %v, %v", genuine, err)
	}

	env.clock.Advance(5 * time.Minute)
	genuine, err = env.manager.HandleArrival(ctx, "alice", "lobby")
	if err != nil || genuine {
		t.Fatalf("duplicate HandleArrival() = %v, %v", genuine, err)
	}

	s, ok := env.manager.Session("ALICE", "lobby")
	if !ok {
		t.Fatal("session missing")
	}
	if !s.ConnectedAt.Equal(testStart) {
		t.Errorf("ConnectedAt = %v, duplicate arrival must not reset it", s.ConnectedAt)
	}
	if s.Username != "Alice" || !s.Genuine {
		t.Errorf("session = %+v", s)
	}
	if got := env.account(t, "alice").Balance; got != env.policy.Onboarding.WelcomeAmount {
		t.Errorf("balance = %d, expected the welcome grant %d", got, env.policy.Onboarding.WelcomeAmount)
	}
	if env.arrived != 1 {
		t.Errorf("arrival hooks ran %d times, expected 1", env.arrived)
	}
}

func TestHandleArrival_BounceWithinWindow(t *testing.T) {
	env := setupTestManager(t, func(p *policy.Policy) { p.DebounceMinutes = 10 })
	ctx := context.Background()

	if genuine, _ := env.manager.HandleArrival(ctx, "alice", "lobby"); !genuine {
		t.Fatal("first arrival should be genuine")
	}
	env.clock.Advance(30 * time.Minute)
	env.manager.HandleDeparture(ctx, "alice", "lobby")
	if len(env.manager.Sessions("")) != 0 {
		t.Fatal("a parked session must not be active")
	}

	env.clock.Advance(2 * time.Minute)
	genuine, err := env.manager.HandleArrival(ctx, "alice", "lobby")
	if err != nil || genuine {
		t.Fatalf("HandleArrival() after 2m = %v, %v, expected a bounce", genuine, err)
	}

	s, ok := env.manager.Session("alice", "lobby")
	if !ok {
		t.Fatal("bounce must restore the session")
	}
	if !s.ConnectedAt.Equal(testStart) {
		t.Errorf("ConnectedAt = %v, expected the original %v", s.ConnectedAt, testStart)
	}
	if s.Genuine {
		t.Error("restored session must be marked non-genuine")
	}
	if env.manager.PendingDepartures() != 0 || env.clock.Pending() != 0 {
		t.Errorf("pending departures %d, timers %d, expected none", env.manager.PendingDepartures(), env.clock.Pending())
	}
	if got := env.account(t, "alice").Balance; got != env.policy.Onboarding.WelcomeAmount {
		t.Errorf("balance = %d, bounce must not re-grant onboarding", got)
	}
	if env.arrived != 1 {
		t.Errorf("arrival hooks ran %d times, expected 1", env.arrived)
	}
}

func TestHandleArrival_GenuineAfterWindow(t *testing.T) {
	env := setupTestManager(t, func(p *policy.Policy) { p.DebounceMinutes = 10 })
	ctx := context.Background()

	env.manager.HandleArrival(ctx, "alice", "lobby")
	env.clock.Advance(time.Hour)
	departedAt := env.clock.Now()
	env.manager.HandleDeparture(ctx, "alice", "lobby")

	env.clock.Advance(10 * time.Minute)
	if env.manager.PendingDepartures() != 0 {
		t.Fatal("departure should be finalized once the window elapsed")
	}
	if acc := env.account(t, "alice"); !acc.LastSeen.Equal(departedAt) {
		t.Errorf("LastSeen = %v, expected the departure time %v", acc.LastSeen, departedAt)
	}

	env.clock.Advance(time.Minute)
	genuine, err := env.manager.HandleArrival(ctx, "alice", "lobby")
	if err != nil || !genuine {
		t.Fatalf("HandleArrival() after the window = %v, %v", genuine, err)
	}
	s, _ := env.manager.Session("alice", "lobby")
	if !s.ConnectedAt.Equal(env.clock.Now()) {
		t.Errorf("ConnectedAt = %v, expected a fresh clock", s.ConnectedAt)
	}
	if got := env.account(t, "alice").Balance; got != env.policy.Onboarding.WelcomeAmount {
		t.Errorf("balance = %d, welcome must be granted once", got)
	}
}

func TestHandleArrival_StaleRecordIsGenuine(t *testing.T) {
	env := setupTestManager(t, func(p *policy.Policy) { p.DebounceMinutes = 10 })
	ctx := context.Background()

	env.manager.HandleArrival(ctx, "alice", "lobby")
	env.manager.HandleDeparture(ctx, "alice", "lobby")
	// the timer has not fired yet but the record is already older than the window
	env.clock.Set(testStart.Add(15 * time.Minute))

	genuine, err := env.manager.HandleArrival(ctx, "alice", "lobby")
	if err != nil || !genuine {
		t.Fatalf("HandleArrival() = %v, %v, expected genuine", genuine, err)
	}
	if env.clock.Pending() != 0 {
		t.Error("stale record's timer should be cancelled")
	}
}

func TestFinalizeDeparture_Stale(t *testing.T) {
	env := setupTestManager(t, func(p *policy.Policy) { p.DebounceMinutes = 10 })
	ctx := context.Background()
	k := account.NewKey("alice", "lobby")

	env.manager.HandleArrival(ctx, "alice", "lobby")
	env.manager.HandleDeparture(ctx, "alice", "lobby")
	env.clock.Advance(2 * time.Minute)
	env.manager.HandleArrival(ctx, "alice", "lobby")
	env.clock.Advance(time.Minute)
	env.manager.HandleDeparture(ctx, "alice", "lobby")

	// the first generation's callback fires late and must be discarded
	env.manager.finalizeDeparture(k, 1)
	if env.manager.PendingDepartures() != 1 {
		t.Fatal("stale finalization removed the current departure record")
	}

	env.clock.Advance(9 * time.Minute)
	if env.manager.PendingDepartures() != 1 {
		t.Fatal("departure finalized before its own window elapsed")
	}
	env.clock.Advance(time.Minute)
	if env.manager.PendingDepartures() != 0 {
		t.Fatal("departure should be finalized")
	}
	if acc := env.account(t, "alice"); !acc.LastSeen.Equal(testStart.Add(3 * time.Minute)) {
		t.Errorf("LastSeen = %v, expected the second departure time", acc.LastSeen)
	}
}

func TestHandleDeparture_UnknownAndExcluded(t *testing.T) {
	env := setupTestManager(t, func(p *policy.Policy) { p.ExcludedIdentities = []string{"MusicBot"} })
	ctx := context.Background()

	env.manager.HandleDeparture(ctx, "nobody", "lobby")
	if env.manager.PendingDepartures() != 0 || env.clock.Pending() != 0 {
		t.Error("departure of an unknown session must be a no-op")
	}

	genuine, err := env.manager.HandleArrival(ctx, "musicbot", "lobby")
	if err != nil || genuine {
		t.Fatalf("HandleArrival(excluded) = %v, %v", genuine, err)
	}
	if len(env.manager.Sessions("")) != 0 {
		t.Error("excluded identity must not get a session")
	}
	if _, err := env.store.GetAccount(ctx, account.NewKey("musicbot", "lobby")); !errors.Is(err, account.ErrAccountNotFound) {
		t.Errorf("excluded identity got an account: %v", err)
	}
}

func TestHandleArrival_ConcurrentSingleSession(t *testing.T) {
	env := setupTestManager(t, nil)
	ctx := context.Background()

	var genuineCount int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if genuine, _ := env.manager.HandleArrival(ctx, "alice", "lobby"); genuine {
				atomic.AddInt32(&genuineCount, 1)
			}
		}()
	}
	wg.Wait()

	if genuineCount != 1 {
		t.Errorf("%d genuine arrivals, expected exactly 1", genuineCount)
	}
	if n := len(env.manager.Sessions("lobby")); n != 1 {
		t.Errorf("%d sessions, expected 1", n)
	}
	if got := env.account(t, "alice").Balance; got != env.policy.Onboarding.WelcomeAmount {
		t.Errorf("balance = %d, welcome must be granted once", got)
	}
}

func TestHandleArrival_RestartFallback(t *testing.T) {
	env := setupTestManager(t, func(p *policy.Policy) { p.DebounceMinutes = 10 })
	ctx := context.Background()
	k := account.NewKey("alice", "lobby")

	if _, _, err := env.store.GetOrCreateAccount(ctx, k); err != nil {
		t.Fatalf("GetOrCreateAccount() error = %v", err)
	}
	lastSeen := testStart.Add(-3 * time.Minute)
	if err := env.store.UpdateLastSeen(ctx, k, lastSeen); err != nil {
		t.Fatalf("UpdateLastSeen() error = %v", err)
	}
	if err := env.store.IncrementDailyCounters(ctx, k, "2026-01-05", 40, 40); err != nil {
		t.Fatalf("IncrementDailyCounters() error = %v", err)
	}

	genuine, err := env.manager.HandleArrival(ctx, "alice", "lobby")
	if err != nil || genuine {
		t.Fatalf("HandleArrival() = %v, %v, expected a bounce from last seen", genuine, err)
	}
	s, _ := env.manager.Session("alice", "lobby")
	if !s.ConnectedAt.Equal(lastSeen) || s.MinutesToday != 40 || s.Genuine {
		t.Errorf("session = %+v", s)
	}

	// a last seen older than the window is a genuine return
	other := account.NewKey("bob", "lobby")
	env.store.GetOrCreateAccount(ctx, other)
	env.store.UpdateLastSeen(ctx, other, testStart.Add(-20*time.Minute))
	if genuine, _ := env.manager.HandleArrival(ctx, "bob", "lobby"); !genuine {
		t.Error("arrival 20 minutes after last seen should be genuine")
	}
}

func TestHandleArrival_ReturningBonus(t *testing.T) {
	env := setupTestManager(t, nil)
	ctx := context.Background()
	k := account.NewKey("alice", "lobby")

	env.store.GetOrCreateAccount(ctx, k)
	env.store.UpdateLastSeen(ctx, k, testStart.Add(-30*24*time.Hour))

	if genuine, _ := env.manager.HandleArrival(ctx, "alice", "lobby"); !genuine {
		t.Fatal("returning arrival should be genuine")
	}
	// the account never received its welcome grant, so it comes with the returning bonus
	want := env.policy.Onboarding.WelcomeAmount + env.policy.Onboarding.ReturningAmount
	if got := env.account(t, "alice").Balance; got != want {
		t.Errorf("balance = %d, expected welcome plus returning bonus %d", got, want)
	}
	if acc := env.account(t, "alice"); !acc.LastSeen.Equal(testStart) {
		t.Errorf("LastSeen = %v, genuine arrival should refresh it", acc.LastSeen)
	}
}

type failingStore struct{}

func (failingStore) GetOrCreateAccount(context.Context, account.Key) (*account.Account, bool, error) {
	return nil, false, errors.New("redis down")
}

func (failingStore) UpdateLastSeen(context.Context, account.Key, time.Time) error {
	return errors.New("redis down")
}

func (failingStore) GetDailyCounters(context.Context, account.Key, string) (*account.DailyCounters, error) {
	return nil, errors.New("redis down")
}

func TestHandleArrival_StoreFailureStillTracks(t *testing.T) {
	clock := commontest.NewFakeClock(testStart)
	m := NewManager(Options{Store: failingStore{}, Policies: policy.NewHolder(policy.Default(), ""), Clock: clock})

	genuine, err := m.HandleArrival(context.Background(), "alice", "lobby")
	if err == nil || genuine {
		t.Fatalf("HandleArrival() = %v, %v, expected a non-genuine error", genuine, err)
	}
	s, ok := m.Session("alice", "lobby")
	if !ok || s.Genuine {
		t.Errorf("session = %+v, %v, expected a non-genuine session", s, ok)
	}

	// flush failures are logged, not fatal
	m.Stop(context.Background())
	if len(m.Sessions("")) != 0 {
		t.Error("Stop should clear sessions")
	}
}

func TestStop_FlushesAndClears(t *testing.T) {
	env := setupTestManager(t, func(p *policy.Policy) { p.DebounceMinutes = 10 })
	ctx := context.Background()

	env.manager.HandleArrival(ctx, "alice", "lobby")
	env.manager.HandleArrival(ctx, "bob", "lobby")
	env.clock.Advance(time.Minute)
	bobLeft := env.clock.Now()
	env.manager.HandleDeparture(ctx, "bob", "lobby")
	env.clock.Advance(time.Minute)

	env.manager.Stop(ctx)

	if env.clock.Pending() != 0 {
		t.Error("Stop should cancel pending finalizations")
	}
	if len(env.manager.Sessions("")) != 0 || env.manager.PendingDepartures() != 0 {
		t.Error("Stop should clear in-memory state")
	}
	if acc := env.account(t, "alice"); !acc.LastSeen.Equal(env.clock.Now()) {
		t.Errorf("alice LastSeen = %v, expected %v", acc.LastSeen, env.clock.Now())
	}
	if acc := env.account(t, "bob"); !acc.LastSeen.Equal(bobLeft) {
		t.Errorf("bob LastSeen = %v, expected the departure time %v", acc.LastSeen, bobLeft)
	}

	if genuine, _ := env.manager.HandleArrival(ctx, "carol", "lobby"); genuine {
		t.Error("a stopped manager must ignore arrivals")
	}
}

func TestUpdateAndSetAFK(t *testing.T) {
	env := setupTestManager(t, nil)
	ctx := context.Background()
	k := account.NewKey("alice", "lobby")

	if err := env.manager.Update(ctx, k, func(context.Context, *Session) error { return nil }); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Update() on missing session error = %v", err)
	}
	if err := env.manager.SetAFK("alice", "lobby", true); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("SetAFK() on missing session error = %v", err)
	}

	env.manager.HandleArrival(ctx, "alice", "lobby")

	err := env.manager.Update(ctx, k, func(_ context.Context, s *Session) error {
		s.MinutesToday = 99
		return errors.New("store failed")
	})
	if err == nil {
		t.Fatal("Update() should return fn's error")
	}
	if s, _ := env.manager.Session("alice", "lobby"); s.MinutesToday != 0 {
		t.Errorf("failed update leaked MinutesToday = %d", s.MinutesToday)
	}

	if err := env.manager.Update(ctx, k, func(_ context.Context, s *Session) error {
		s.MinutesToday = 5
		return nil
	}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if err := env.manager.SetAFK("Alice", "lobby", true); err != nil {
		t.Fatalf("SetAFK() error = %v", err)
	}
	s, _ := env.manager.Session("alice", "lobby")
	if s.MinutesToday != 5 || !s.AFK {
		t.Errorf("session = %+v", s)
	}
	if keys := env.manager.ActiveKeys(); len(keys) != 1 || keys[0] != k {
		t.Errorf("ActiveKeys() = %v", keys)
	}
}

func TestSession_Rollover(t *testing.T) {
	s := newSession(account.NewKey("alice", "lobby"), "alice", testStart, true, "2026-01-05")
	s.MinutesToday = 30
	if s.Rollover("2026-01-05") {
		t.Error("same date should not roll over")
	}
	if !s.Rollover("2026-01-06") || s.MinutesToday != 0 || s.CurrentDate != "2026-01-06" {
		t.Errorf("after rollover: %+v", s)
	}
	if d := s.Dwell(testStart.Add(-time.Minute)); d != 0 {
		t.Errorf("Dwell() before connect = %v", d)
	}
}

// claimFailsOnce fails its first ClaimOnce and delegates afterwards.
type claimFailsOnce struct {
	*account.RedisStore
	calls int32
}

func (c *claimFailsOnce) ClaimOnce(ctx context.Context, k account.Key, claimID string, g account.Grant) (bool, int64, error) {
	if atomic.AddInt32(&c.calls, 1) == 1 {
		return false, 0, errors.New("connection reset")
	}
	return c.RedisStore.ClaimOnce(ctx, k, claimID, g)
}

func TestHandleArrival_WelcomeRetriedAfterFailure(t *testing.T) {
	env := setupTestManager(t, func(p *policy.Policy) { p.DebounceMinutes = 10 })
	ctx := context.Background()
	m := NewManager(Options{
		Store:      env.store,
		Policies:   policy.NewHolder(env.policy, ""),
		Clock:      env.clock,
		Onboarding: incentive.NewOnboarding(&claimFailsOnce{RedisStore: env.store}, nil),
	})

	if genuine, err := m.HandleArrival(ctx, "alice", "lobby"); err != nil || !genuine {
		t.Fatalf("first HandleArrival() = %v, %v", genuine, err)
	}
	if got := env.account(t, "alice").Balance; got != 0 {
		t.Fatalf("balance = %d, the failed welcome claim must not credit", got)
	}

	m.HandleDeparture(ctx, "alice", "lobby")
	env.clock.Advance(11 * time.Minute)

	if genuine, err := m.HandleArrival(ctx, "alice", "lobby"); err != nil || !genuine {
		t.Fatalf("second HandleArrival() = %v, %v", genuine, err)
	}
	if got := env.account(t, "alice").Balance; got != env.policy.Onboarding.WelcomeAmount {
		t.Errorf("balance = %d, expected the retried welcome grant %d", got, env.policy.Onboarding.WelcomeAmount)
	}
}

func TestHandleArrival_GenuineRejoinKeepsTodaysMinutes(t *testing.T) {
	env := setupTestManager(t, func(p *policy.Policy) { p.DebounceMinutes = 10 })
	ctx := context.Background()
	k := account.NewKey("alice", "lobby")

	env.manager.HandleArrival(ctx, "alice", "lobby")
	if err := env.store.IncrementDailyCounters(ctx, k, "2026-01-05", 25, 25); err != nil {
		t.Fatalf("IncrementDailyCounters() error = %v", err)
	}
	env.manager.HandleDeparture(ctx, "alice", "lobby")
	env.clock.Advance(11 * time.Minute)

	if genuine, _ := env.manager.HandleArrival(ctx, "alice", "lobby"); !genuine {
		t.Fatal("arrival after the window should be genuine")
	}
	s, _ := env.manager.Session("alice", "lobby")
	if s.MinutesToday != 25 || !s.Genuine {
		t.Errorf("session = %+v, expected today's 25 minutes carried over", s)
	}
}

// lastSeenFailsOnce fails its first UpdateLastSeen after being armed.
type lastSeenFailsOnce struct {
	*account.RedisStore
	armed int32
}

func (l *lastSeenFailsOnce) UpdateLastSeen(ctx context.Context, k account.Key, t time.Time) error {
	if atomic.CompareAndSwapInt32(&l.armed, 1, 0) {
		return errors.New("connection reset")
	}
	return l.RedisStore.UpdateLastSeen(ctx, k, t)
}

func TestFinalizeDeparture_FailedWriteFlushedOnStop(t *testing.T) {
	env := setupTestManager(t, func(p *policy.Policy) { p.DebounceMinutes = 10 })
	ctx := context.Background()
	store := &lastSeenFailsOnce{RedisStore: env.store}
	m := NewManager(Options{Store: store, Policies: policy.NewHolder(env.policy, ""), Clock: env.clock})

	m.HandleArrival(ctx, "alice", "lobby")
	env.clock.Advance(5 * time.Minute)
	departedAt := env.clock.Now()
	m.HandleDeparture(ctx, "alice", "lobby")

	atomic.StoreInt32(&store.armed, 1)
	env.clock.Advance(10 * time.Minute)
	if m.PendingDepartures() != 1 {
		t.Fatalf("pending departures = %d, a failed finalization stays parked", m.PendingDepartures())
	}

	m.Stop(ctx)
	if acc := env.account(t, "alice"); !acc.LastSeen.Equal(departedAt) {
		t.Errorf("LastSeen = %v, expected the departure time %v", acc.LastSeen, departedAt)
	}
}
