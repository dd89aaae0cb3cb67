// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package account

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/AccelByte/extend-dwell-rewards/pkg/common"

	"github.com/go-redis/redis/v8"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

const (
	// KeyPrefix is the prefix for all dwell reward keys
	KeyPrefix = "dwell_rewards:"
	// LedgerCap is the number of ledger entries kept per account
	LedgerCap = 200
	// DailyTTL is how long daily counters are kept
	DailyTTL = 8 * 24 * time.Hour
	// MilestoneTTL is how long a date's milestone claims are kept
	MilestoneTTL = 2 * 24 * time.Hour
)

// CreditOption customizes a Credit call.
type CreditOption func(*creditOptions)

type creditOptions struct {
	dailyDate    string
	dailyMinutes int64
}

// WithDaily increments the date's minutes-present by minutes and currency-earned by
// the credited amount, in the same atomic operation as the credit.
func WithDaily(date string, minutes int64) CreditOption {
	return func(o *creditOptions) {
		o.dailyDate = date
		o.dailyMinutes = minutes
	}
}

// RedisStore is the Redis-backed account store.
type RedisStore struct {
	client *redis.Client
	clock  common.Clock
}

// NewRedisStore creates a store on client. A nil clock uses the system clock.
func NewRedisStore(client *redis.Client, clock common.Clock) *RedisStore {
	if clock == nil {
		clock = common.SystemClock{}
	}
	return &RedisStore{client: client, clock: clock}
}

func accountKey(k Key) string {
	return fmt.Sprintf("%saccount:%s:%s", KeyPrefix, k.Room, k.Username)
}

func claimsKey(k Key) string {
	return fmt.Sprintf("%sclaims:%s:%s", KeyPrefix, k.Room, k.Username)
}

func ledgerKey(k Key) string {
	return fmt.Sprintf("%sledger:%s:%s", KeyPrefix, k.Room, k.Username)
}

func dailyKey(k Key, date string) string {
	return fmt.Sprintf("%sdaily:%s:%s:%s", KeyPrefix, k.Room, k.Username, date)
}

func milestonesKey(k Key, date string) string {
	return fmt.Sprintf("%smilestones:%s:%s:%s", KeyPrefix, k.Room, k.Username, date)
}

func streakKey(k Key) string {
	return fmt.Sprintf("%sstreak:%s:%s", KeyPrefix, k.Room, k.Username)
}

func millis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func parseMillis(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func parseInt(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

// GetOrCreateAccount returns the account for k, creating it with a zero balance if absent.
// created reports whether this call created it.
func (s *RedisStore) GetOrCreateAccount(ctx context.Context, k Key) (*Account, bool, error) {
	key := accountKey(k)
	now := millis(s.clock.Now())

	var created *redis.BoolCmd
	var fields *redis.StringStringMapCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		created = pipe.HSetNX(ctx, key, "created_at", now)
		pipe.HSetNX(ctx, key, "username", k.Username)
		pipe.HSetNX(ctx, key, "room", k.Room)
		pipe.HSetNX(ctx, key, "balance", 0)
		pipe.HSetNX(ctx, key, "lifetime_earned", 0)
		fields = pipe.HGetAll(ctx, key)
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to get or create account %s: %w", k, err)
	}

	if created.Val() {
		logrus.Infof("created account %s", k)
	}
	return decodeAccount(k, fields.Val()), created.Val(), nil
}

// GetAccount reads the account for k.
func (s *RedisStore) GetAccount(ctx context.Context, k Key) (*Account, error) {
	fields, err := s.client.HGetAll(ctx, accountKey(k)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get account %s: %w", k, err)
	}
	if len(fields) == 0 {
		return nil, ErrAccountNotFound
	}
	return decodeAccount(k, fields), nil
}

func decodeAccount(k Key, fields map[string]string) *Account {
	return &Account{
		Username:       k.Username,
		Room:           k.Room,
		Balance:        parseInt(fields["balance"]),
		LifetimeEarned: parseInt(fields["lifetime_earned"]),
		LastSeen:       parseMillis(fields["last_seen"]),
		CreatedAt:      parseMillis(fields["created_at"]),
		Banned:         fields["banned"] == "1",
	}
}

// UpdateLastSeen persists t as the account's last-seen time.
func (s *RedisStore) UpdateLastSeen(ctx context.Context, k Key, t time.Time) error {
	if err := s.client.HSet(ctx, accountKey(k), "last_seen", millis(t)).Err(); err != nil {
		return fmt.Errorf("failed to update last seen for %s: %w", k, err)
	}
	return nil
}

// SetBanned sets or clears the ban flag. Banned accounts refuse credits and debits.
func (s *RedisStore) SetBanned(ctx context.Context, k Key, banned bool) error {
	value := "0"
	if banned {
		value = "1"
	}
	if err := s.client.HSet(ctx, accountKey(k), "banned", value).Err(); err != nil {
		return fmt.Errorf("failed to set banned for %s: %w", k, err)
	}
	logrus.Infof("account %s banned=%v", k, banned)
	return nil
}

func (s *RedisStore) encodeEntry(g Grant, amount int64) (string, error) {
	now := s.clock.Now()
	entry := LedgerEntry{
		ID:        ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		Type:      g.Type,
		Amount:    amount,
		Reason:    g.Reason,
		TriggerID: g.TriggerID,
		Metadata:  g.Metadata,
		CreatedAt: now.UTC(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("failed to marshal ledger entry: %w", err)
	}
	return string(data), nil
}

// creditArgs returns the amount, entry, ledger trim stop and now arguments shared by credit scripts.
func (s *RedisStore) creditArgs(g Grant) ([]interface{}, error) {
	entry, err := s.encodeEntry(g, g.Amount)
	if err != nil {
		return nil, err
	}
	return []interface{}{g.Amount, entry, LedgerCap - 1, millis(s.clock.Now())}, nil
}

func parseResult(res interface{}) (int64, int64, error) {
	values, ok := res.([]interface{})
	if !ok || len(values) != 2 {
		return 0, 0, fmt.Errorf("unexpected script result %v", res)
	}
	status, ok1 := values[0].(int64)
	balance, ok2 := values[1].(int64)
	if !ok1 || !ok2 {
		return 0, 0, fmt.Errorf("unexpected script result %v", res)
	}
	return status, balance, nil
}

func statusError(status int64) error {
	switch status {
	case statusBanned:
		return ErrAccountBanned
	case statusInsufficient:
		return ErrInsufficientBalance
	case statusNotFound:
		return ErrAccountNotFound
	}
	return nil
}

// Credit adds a positive grant to the balance and lifetime total and appends a ledger entry.
// Returns the new balance.
func (s *RedisStore) Credit(ctx context.Context, k Key, g Grant, opts ...CreditOption) (int64, error) {
	if g.Amount <= 0 {
		return 0, fmt.Errorf("credit amount must be positive, got %d", g.Amount)
	}
	var o creditOptions
	for _, opt := range opts {
		opt(&o)
	}

	args, err := s.creditArgs(g)
	if err != nil {
		return 0, err
	}
	keys := []string{accountKey(k), ledgerKey(k)}
	if o.dailyDate != "" {
		keys = append(keys, dailyKey(k, o.dailyDate))
		args = append(args, int64(DailyTTL.Seconds()), o.dailyMinutes)
	}

	res, err := creditScript.Run(ctx, s.client, keys, args...).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to credit %s: %w", k, err)
	}
	status, balance, err := parseResult(res)
	if err != nil {
		return 0, err
	}
	if err := statusError(status); err != nil {
		return 0, err
	}

	logrus.Debugf("credited %d (%s) to %s, balance %d", g.Amount, g.Type, k, balance)
	return balance, nil
}

// Debit removes amount from the balance without touching the lifetime total.
// Returns ErrInsufficientBalance when the balance is lower than amount.
func (s *RedisStore) Debit(ctx context.Context, k Key, amount int64, reason string) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("debit amount must be positive, got %d", amount)
	}
	entry, err := s.encodeEntry(Grant{Type: EntryDebit, Reason: reason}, -amount)
	if err != nil {
		return 0, err
	}

	res, err := debitScript.Run(ctx, s.client, []string{accountKey(k), ledgerKey(k)},
		amount, entry, LedgerCap-1).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to debit %s: %w", k, err)
	}
	status, balance, err := parseResult(res)
	if err != nil {
		return 0, err
	}
	if err := statusError(status); err != nil {
		return balance, err
	}

	logrus.Debugf("debited %d from %s, balance %d", amount, k, balance)
	return balance, nil
}

func (s *RedisStore) claim(ctx context.Context, k Key, flagsKey, field string, ttl time.Duration, g Grant) (bool, int64, error) {
	args, err := s.creditArgs(g)
	if err != nil {
		return false, 0, err
	}
	args = append(args, field, int64(ttl.Seconds()))

	res, err := claimScript.Run(ctx, s.client, []string{accountKey(k), ledgerKey(k), flagsKey}, args...).Result()
	if err != nil {
		return false, 0, fmt.Errorf("failed to claim %s for %s: %w", field, k, err)
	}
	status, balance, err := parseResult(res)
	if err != nil {
		return false, 0, err
	}
	if err := statusError(status); err != nil {
		return false, 0, err
	}
	return status == statusOK, balance, nil
}

// ClaimOnce records claimID for the account and credits g, atomically, the first time only.
// claimed is false when claimID was already recorded.
func (s *RedisStore) ClaimOnce(ctx context.Context, k Key, claimID string, g Grant) (bool, int64, error) {
	return s.claim(ctx, k, claimsKey(k), claimID, 0, g)
}

// GetOrCreateDailyMilestones returns the milestones claimed on date. A fresh date has none.
func (s *RedisStore) GetOrCreateDailyMilestones(ctx context.Context, k Key, date string) (*MilestoneRecord, error) {
	fields, err := s.client.HGetAll(ctx, milestonesKey(k, date)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get milestones for %s on %s: %w", k, date, err)
	}
	rec := &MilestoneRecord{Date: date, Claimed: make(map[string]bool, len(fields))}
	for name := range fields {
		rec.Claimed[name] = true
	}
	return rec, nil
}

// MarkMilestone marks a milestone claimed on date and credits g, at most once per date.
func (s *RedisStore) MarkMilestone(ctx context.Context, k Key, date, name string, g Grant) (bool, int64, error) {
	return s.claim(ctx, k, milestonesKey(k, date), name, MilestoneTTL, g)
}

// IncrementDailyCounters adds to the date's counters without crediting.
func (s *RedisStore) IncrementDailyCounters(ctx context.Context, k Key, date string, minutes, earned int64) error {
	key := dailyKey(k, date)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HIncrBy(ctx, key, "minutes", minutes)
		pipe.HIncrBy(ctx, key, "earned", earned)
		pipe.Expire(ctx, key, DailyTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to increment daily counters for %s: %w", k, err)
	}
	return nil
}

// GetDailyCounters reads the counters of date; an unknown date reads as zero.
func (s *RedisStore) GetDailyCounters(ctx context.Context, k Key, date string) (*DailyCounters, error) {
	fields, err := s.client.HGetAll(ctx, dailyKey(k, date)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get daily counters for %s: %w", k, err)
	}
	return &DailyCounters{
		Date:    date,
		Minutes: parseInt(fields["minutes"]),
		Earned:  parseInt(fields["earned"]),
	}, nil
}

// GetOrCreateStreakRecord reads the streak record; an unknown account reads as a zero record.
func (s *RedisStore) GetOrCreateStreakRecord(ctx context.Context, k Key) (*StreakRecord, error) {
	fields, err := s.client.HGetAll(ctx, streakKey(k)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get streak for %s: %w", k, err)
	}
	return &StreakRecord{
		Current:  int(parseInt(fields["current"])),
		Longest:  int(parseInt(fields["longest"])),
		LastDate: fields["last_date"],
		Bridge: BridgeState{
			Week:        fields["week"],
			WeekendSeen: fields["weekend_seen"] == "1",
			WeekdaySeen: fields["weekday_seen"] == "1",
			Claimed:     fields["bridge_claimed"] == "1",
		},
	}, nil
}

// UpdateStreakRecord persists rec only if the stored last counted date still equals
// prevDate, crediting grants in the same atomic operation.
// updated is false when another evaluation changed the record first.
func (s *RedisStore) UpdateStreakRecord(ctx context.Context, k Key, prevDate string, rec StreakRecord, grants ...Grant) (bool, error) {
	args := []interface{}{prevDate, rec.Current, rec.Longest, rec.LastDate, LedgerCap - 1, millis(s.clock.Now())}
	for _, g := range grants {
		if g.Amount <= 0 {
			continue
		}
		entry, err := s.encodeEntry(g, g.Amount)
		if err != nil {
			return false, err
		}
		args = append(args, g.Amount, entry)
	}

	res, err := streakScript.Run(ctx, s.client, []string{accountKey(k), ledgerKey(k), streakKey(k)}, args...).Result()
	if err != nil {
		return false, fmt.Errorf("failed to update streak for %s: %w", k, err)
	}
	status, _, err := parseResult(res)
	if err != nil {
		return false, err
	}
	if err := statusError(status); err != nil {
		return false, err
	}
	return status == statusOK, nil
}

// UpdateBridgeFlags marks the weekend or weekday flag for week, resetting all flags
// first when week differs from the stored week. Returns the resulting state.
func (s *RedisStore) UpdateBridgeFlags(ctx context.Context, k Key, week string, weekend bool) (*BridgeState, error) {
	field := "weekday_seen"
	if weekend {
		field = "weekend_seen"
	}
	res, err := bridgeFlagsScript.Run(ctx, s.client, []string{streakKey(k)}, week, field).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to update bridge flags for %s: %w", k, err)
	}
	values, ok := res.([]interface{})
	if !ok || len(values) != 3 {
		return nil, fmt.Errorf("unexpected script result %v", res)
	}
	flag := func(v interface{}) bool {
		str, _ := v.(string)
		return str == "1"
	}
	return &BridgeState{
		Week:        week,
		WeekendSeen: flag(values[0]),
		WeekdaySeen: flag(values[1]),
		Claimed:     flag(values[2]),
	}, nil
}

// ClaimBridge credits g once for week, only when both flags of that week are set.
func (s *RedisStore) ClaimBridge(ctx context.Context, k Key, week string, g Grant) (bool, int64, error) {
	args, err := s.creditArgs(g)
	if err != nil {
		return false, 0, err
	}
	args = append(args, week)

	res, err := bridgeClaimScript.Run(ctx, s.client, []string{accountKey(k), ledgerKey(k), streakKey(k)}, args...).Result()
	if err != nil {
		return false, 0, fmt.Errorf("failed to claim bridge for %s: %w", k, err)
	}
	status, balance, err := parseResult(res)
	if err != nil {
		return false, 0, err
	}
	if err := statusError(status); err != nil {
		return false, 0, err
	}
	return status == statusOK, balance, nil
}

// Ledger returns up to limit most recent entries, newest first.
func (s *RedisStore) Ledger(ctx context.Context, k Key, limit int) ([]LedgerEntry, error) {
	if limit <= 0 || limit > LedgerCap {
		limit = LedgerCap
	}
	raw, err := s.client.LRange(ctx, ledgerKey(k), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger for %s: %w", k, err)
	}
	entries := make([]LedgerEntry, 0, len(raw))
	for _, item := range raw {
		var e LedgerEntry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			logrus.Warnf("skipping malformed ledger entry for %s: %v", k, err)
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}
