// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package account

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/AccelByte/extend-dwell-rewards/pkg/common/commontest"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

var testNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

// setupTestStore creates a store on a miniredis instance for testing
func setupTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis, *commontest.FakeClock) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clock := commontest.NewFakeClock(testNow)
	return NewRedisStore(client, clock), mr, clock
}

func TestNewKey_NormalizesUsername(t *testing.T) {
	k := NewKey("  Alice ", "lobby")
	if k.Username != "alice" || k.Room != "lobby" {
		t.Errorf("NewKey() = %+v", k)
	}
	if k.String() != "lobby:alice" {
		t.Errorf("String() = %q", k.String())
	}
}

func TestGetOrCreateAccount(t *testing.T) {
	store, _, _ := setupTestStore(t)
	ctx := context.Background()
	k := NewKey("alice", "lobby")

	acc, created, err := store.GetOrCreateAccount(ctx, k)
	if err != nil {
		t.Fatalf("GetOrCreateAccount() error = %v", err)
	}
	if !created {
		t.Error("first GetOrCreateAccount() should create the account")
	}
	if acc.Balance != 0 || acc.LifetimeEarned != 0 {
		t.Errorf("new account has balance %d lifetime %d", acc.Balance, acc.LifetimeEarned)
	}
	if !acc.CreatedAt.Equal(testNow) {
		t.Errorf("CreatedAt = %v, expected %v", acc.CreatedAt, testNow)
	}
	if !acc.LastSeen.IsZero() {
		t.Errorf("LastSeen = %v, expected zero", acc.LastSeen)
	}

	_, created, err = store.GetOrCreateAccount(ctx, k)
	if err != nil {
		t.Fatalf("GetOrCreateAccount() error = %v", err)
	}
	if created {
		t.Error("second GetOrCreateAccount() should not create the account")
	}
}

func TestGetAccount_NotFound(t *testing.T) {
	store, _, _ := setupTestStore(t)

	_, err := store.GetAccount(context.Background(), NewKey("ghost", "lobby"))
	if !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("GetAccount() error = %v, expected ErrAccountNotFound", err)
	}
}

func TestUpdateLastSeen(t *testing.T) {
	store, _, _ := setupTestStore(t)
	ctx := context.Background()
	k := NewKey("alice", "lobby")

	if _, _, err := store.GetOrCreateAccount(ctx, k); err != nil {
		t.Fatalf("GetOrCreateAccount() error = %v", err)
	}
	seen := testNow.Add(42 * time.Minute)
	if err := store.UpdateLastSeen(ctx, k, seen); err != nil {
		t.Fatalf("UpdateLastSeen() error = %v", err)
	}

	acc, err := store.GetAccount(ctx, k)
	if err != nil {
		t.Fatalf("GetAccount() error = %v", err)
	}
	if !acc.LastSeen.Equal(seen) {
		t.Errorf("LastSeen = %v, expected %v", acc.LastSeen, seen)
	}
}

func TestCredit_WithDaily(t *testing.T) {
	store, mr, _ := setupTestStore(t)
	ctx := context.Background()
	k := NewKey("alice", "lobby")
	if _, _, err := store.GetOrCreateAccount(ctx, k); err != nil {
		t.Fatalf("GetOrCreateAccount() error = %v", err)
	}

	grant := Grant{Type: EntryPresence, Amount: 2, Reason: "presence", Metadata: map[string]string{"modifier": "night_owl"}}
	for i := 0; i < 3; i++ {
		if _, err := store.Credit(ctx, k, grant, WithDaily("2025-03-10", 1)); err != nil {
			t.Fatalf("Credit() error = %v", err)
		}
	}

	acc, err := store.GetAccount(ctx, k)
	if err != nil {
		t.Fatalf("GetAccount() error = %v", err)
	}
	if acc.Balance != 6 || acc.LifetimeEarned != 6 {
		t.Errorf("balance %d lifetime %d, expected 6 and 6", acc.Balance, acc.LifetimeEarned)
	}

	daily, err := store.GetDailyCounters(ctx, k, "2025-03-10")
	if err != nil {
		t.Fatalf("GetDailyCounters() error = %v", err)
	}
	if daily.Minutes != 3 || daily.Earned != 6 {
		t.Errorf("daily = %+v, expected 3 minutes 6 earned", daily)
	}
	if ttl := mr.TTL(dailyKey(k, "2025-03-10")); ttl != DailyTTL {
		t.Errorf("daily TTL = %v, expected %v", ttl, DailyTTL)
	}

	entries, err := store.Ledger(ctx, k, 10)
	if err != nil {
		t.Fatalf("Ledger() error = %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("ledger has %d entries, expected 3", len(entries))
	}
	if entries[0].Type != EntryPresence || entries[0].Metadata["modifier"] != "night_owl" {
		t.Errorf("ledger entry = %+v", entries[0])
	}
	if entries[0].ID == "" || entries[0].ID == entries[1].ID {
		t.Errorf("ledger ids should be unique, got %q and %q", entries[0].ID, entries[1].ID)
	}
}

func TestCredit_RejectsNonPositive(t *testing.T) {
	store, _, _ := setupTestStore(t)

	if _, err := store.Credit(context.Background(), NewKey("alice", "lobby"), Grant{Type: EntryPresence}); err == nil {
		t.Error("Credit() with zero amount should fail")
	}
}

func TestCredit_BannedAccount(t *testing.T) {
	store, _, _ := setupTestStore(t)
	ctx := context.Background()
	k := NewKey("mallory", "lobby")
	if _, _, err := store.GetOrCreateAccount(ctx, k); err != nil {
		t.Fatalf("GetOrCreateAccount() error = %v", err)
	}
	if err := store.SetBanned(ctx, k, true); err != nil {
		t.Fatalf("SetBanned() error = %v", err)
	}

	_, err := store.Credit(ctx, k, Grant{Type: EntryPresence, Amount: 1}, WithDaily("2025-03-10", 1))
	if !errors.Is(err, ErrAccountBanned) {
		t.Errorf("Credit() error = %v, expected ErrAccountBanned", err)
	}
	daily, _ := store.GetDailyCounters(ctx, k, "2025-03-10")
	if daily.Minutes != 0 {
		t.Errorf("banned credit incremented daily minutes to %d", daily.Minutes)
	}
}

func TestDebit(t *testing.T) {
	store, _, _ := setupTestStore(t)
	ctx := context.Background()
	k := NewKey("alice", "lobby")

	if _, err := store.Debit(ctx, k, 5, "shop"); !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("Debit() on unknown account error = %v, expected ErrAccountNotFound", err)
	}

	if _, _, err := store.GetOrCreateAccount(ctx, k); err != nil {
		t.Fatalf("GetOrCreateAccount() error = %v", err)
	}
	if _, err := store.Credit(ctx, k, Grant{Type: EntryWelcome, Amount: 10}); err != nil {
		t.Fatalf("Credit() error = %v", err)
	}

	tests := []struct {
		name        string
		amount      int64
		wantBalance int64
		wantErr     error
	}{
		{name: "insufficient", amount: 11, wantBalance: 10, wantErr: ErrInsufficientBalance},
		{name: "partial", amount: 4, wantBalance: 6},
		{name: "exact", amount: 6, wantBalance: 0},
		{name: "empty", amount: 1, wantBalance: 0, wantErr: ErrInsufficientBalance},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			balance, err := store.Debit(ctx, k, tt.amount, "shop")
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Debit() error = %v, expected %v", err, tt.wantErr)
			}
			if balance != tt.wantBalance {
				t.Errorf("Debit() balance = %d, expected %d", balance, tt.wantBalance)
			}
		})
	}

	acc, _ := store.GetAccount(ctx, k)
	if acc.LifetimeEarned != 10 {
		t.Errorf("LifetimeEarned = %d, debits must not change it", acc.LifetimeEarned)
	}
}

func TestClaimOnce(t *testing.T) {
	store, _, _ := setupTestStore(t)
	ctx := context.Background()
	k := NewKey("alice", "lobby")
	if _, _, err := store.GetOrCreateAccount(ctx, k); err != nil {
		t.Fatalf("GetOrCreateAccount() error = %v", err)
	}
	grant := Grant{Type: EntryWelcome, Amount: 50, TriggerID: "welcome"}

	claimed, balance, err := store.ClaimOnce(ctx, k, "welcome", grant)
	if err != nil || !claimed || balance != 50 {
		t.Fatalf("first ClaimOnce() = %v, %d, %v", claimed, balance, err)
	}
	claimed, balance, err = store.ClaimOnce(ctx, k, "welcome", grant)
	if err != nil || claimed || balance != 50 {
		t.Fatalf("second ClaimOnce() = %v, %d, %v", claimed, balance, err)
	}

	claimed, _, err = store.ClaimOnce(ctx, k, "returning:123", Grant{Type: EntryReturning, Amount: 5})
	if err != nil || !claimed {
		t.Fatalf("ClaimOnce() with another id = %v, %v", claimed, err)
	}
}

func TestMarkMilestone_PerDate(t *testing.T) {
	store, mr, _ := setupTestStore(t)
	ctx := context.Background()
	k := NewKey("alice", "lobby")
	grant := Grant{Type: EntryMilestone, Amount: 10, TriggerID: "hours_1"}

	claimed, _, err := store.MarkMilestone(ctx, k, "2025-03-10", "hours_1", grant)
	if err != nil || !claimed {
		t.Fatalf("MarkMilestone() = %v, %v", claimed, err)
	}
	claimed, _, err = store.MarkMilestone(ctx, k, "2025-03-10", "hours_1", grant)
	if err != nil || claimed {
		t.Fatalf("repeated MarkMilestone() = %v, %v", claimed, err)
	}
	claimed, _, err = store.MarkMilestone(ctx, k, "2025-03-11", "hours_1", grant)
	if err != nil || !claimed {
		t.Fatalf("MarkMilestone() on a new date = %v, %v", claimed, err)
	}

	rec, err := store.GetOrCreateDailyMilestones(ctx, k, "2025-03-10")
	if err != nil {
		t.Fatalf("GetOrCreateDailyMilestones() error = %v", err)
	}
	if !rec.IsClaimed("hours_1") || rec.IsClaimed("hours_3") {
		t.Errorf("milestone record = %+v", rec.Claimed)
	}
	if ttl := mr.TTL(milestonesKey(k, "2025-03-10")); ttl != MilestoneTTL {
		t.Errorf("milestone TTL = %v, expected %v", ttl, MilestoneTTL)
	}

	fresh, _ := store.GetOrCreateDailyMilestones(ctx, k, "2025-03-12")
	if len(fresh.Claimed) != 0 {
		t.Errorf("fresh date has claims %v", fresh.Claimed)
	}
}

func TestUpdateStreakRecord_CompareAndSet(t *testing.T) {
	store, _, _ := setupTestStore(t)
	ctx := context.Background()
	k := NewKey("alice", "lobby")
	if _, _, err := store.GetOrCreateAccount(ctx, k); err != nil {
		t.Fatalf("GetOrCreateAccount() error = %v", err)
	}

	rec := StreakRecord{Current: 1, Longest: 1, LastDate: "2025-03-10"}
	ok, err := store.UpdateStreakRecord(ctx, k, "", rec)
	if err != nil || !ok {
		t.Fatalf("UpdateStreakRecord() = %v, %v", ok, err)
	}
	// a second evaluation still holding the old last date loses
	ok, err = store.UpdateStreakRecord(ctx, k, "", rec)
	if err != nil || ok {
		t.Fatalf("stale UpdateStreakRecord() = %v, %v", ok, err)
	}

	next := StreakRecord{Current: 2, Longest: 2, LastDate: "2025-03-11"}
	ok, err = store.UpdateStreakRecord(ctx, k, "2025-03-10", next,
		Grant{Type: EntryStreak, Amount: 5}, Grant{Type: EntryStreakBonus, Amount: 0})
	if err != nil || !ok {
		t.Fatalf("UpdateStreakRecord() = %v, %v", ok, err)
	}

	got, err := store.GetOrCreateStreakRecord(ctx, k)
	if err != nil {
		t.Fatalf("GetOrCreateStreakRecord() error = %v", err)
	}
	if got.Current != 2 || got.Longest != 2 || got.LastDate != "2025-03-11" {
		t.Errorf("streak = %+v", got)
	}
	acc, _ := store.GetAccount(ctx, k)
	if acc.Balance != 5 {
		t.Errorf("balance = %d, expected 5", acc.Balance)
	}
	entries, _ := store.Ledger(ctx, k, 0)
	if len(entries) != 1 {
		t.Errorf("ledger has %d entries, zero grants must be skipped", len(entries))
	}
}

func TestBridgeFlagsAndClaim(t *testing.T) {
	store, _, _ := setupTestStore(t)
	ctx := context.Background()
	k := NewKey("alice", "lobby")
	if _, _, err := store.GetOrCreateAccount(ctx, k); err != nil {
		t.Fatalf("GetOrCreateAccount() error = %v", err)
	}
	grant := Grant{Type: EntryBridge, Amount: 25}

	state, err := store.UpdateBridgeFlags(ctx, k, "2025-W11", false)
	if err != nil {
		t.Fatalf("UpdateBridgeFlags() error = %v", err)
	}
	if !state.WeekdaySeen || state.WeekendSeen || state.Claimed {
		t.Errorf("after weekday: %+v", state)
	}
	if claimed, _, _ := store.ClaimBridge(ctx, k, "2025-W11", grant); claimed {
		t.Error("ClaimBridge() should refuse with only one flag set")
	}

	state, _ = store.UpdateBridgeFlags(ctx, k, "2025-W11", true)
	if !state.WeekdaySeen || !state.WeekendSeen {
		t.Errorf("after weekend: %+v", state)
	}
	claimed, balance, err := store.ClaimBridge(ctx, k, "2025-W11", grant)
	if err != nil || !claimed || balance != 25 {
		t.Fatalf("ClaimBridge() = %v, %d, %v", claimed, balance, err)
	}
	if claimed, _, _ := store.ClaimBridge(ctx, k, "2025-W11", grant); claimed {
		t.Error("ClaimBridge() must pay once per week")
	}

	state, _ = store.UpdateBridgeFlags(ctx, k, "2025-W12", false)
	if !state.WeekdaySeen || state.WeekendSeen || state.Claimed {
		t.Errorf("new week should reset flags: %+v", state)
	}
}

func TestLedger_Capped(t *testing.T) {
	store, _, _ := setupTestStore(t)
	ctx := context.Background()
	k := NewKey("alice", "lobby")

	for i := 0; i < LedgerCap+5; i++ {
		if _, err := store.Credit(ctx, k, Grant{Type: EntryPresence, Amount: 1}); err != nil {
			t.Fatalf("Credit() error = %v", err)
		}
	}
	entries, err := store.Ledger(ctx, k, 0)
	if err != nil {
		t.Fatalf("Ledger() error = %v", err)
	}
	if len(entries) != LedgerCap {
		t.Errorf("ledger has %d entries, expected %d", len(entries), LedgerCap)
	}
	acc, _ := store.GetAccount(ctx, k)
	if acc.Balance != LedgerCap+5 {
		t.Errorf("balance = %d, expected %d", acc.Balance, LedgerCap+5)
	}
}

func TestHealthChecker(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	checker := NewHealthChecker(client)
	if !checker.IsHealthy(context.Background()) {
		t.Error("IsHealthy() = false with Redis running")
	}
	mr.Close()
	if checker.IsHealthy(context.Background()) {
		t.Error("IsHealthy() = true with Redis stopped")
	}
}

func TestInitRedisClient(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	defer mr.Close()

	client, err := InitRedisClient(context.Background(), ClientOptions{Addr: mr.Addr(), MaxRetries: 2, RetryDelay: time.Millisecond})
	if err != nil {
		t.Fatalf("InitRedisClient() error = %v", err)
	}
	_ = client.Close()
}
