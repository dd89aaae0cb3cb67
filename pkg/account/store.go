// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package account

import (
	"context"
	"time"
)

// Store is the durable account store. Every mutation is atomic.
type Store interface {
	GetOrCreateAccount(ctx context.Context, k Key) (*Account, bool, error)
	GetAccount(ctx context.Context, k Key) (*Account, error)
	UpdateLastSeen(ctx context.Context, k Key, t time.Time) error
	SetBanned(ctx context.Context, k Key, banned bool) error

	Credit(ctx context.Context, k Key, g Grant, opts ...CreditOption) (int64, error)
	Debit(ctx context.Context, k Key, amount int64, reason string) (int64, error)
	ClaimOnce(ctx context.Context, k Key, claimID string, g Grant) (bool, int64, error)

	IncrementDailyCounters(ctx context.Context, k Key, date string, minutes, earned int64) error
	GetDailyCounters(ctx context.Context, k Key, date string) (*DailyCounters, error)
	GetOrCreateDailyMilestones(ctx context.Context, k Key, date string) (*MilestoneRecord, error)
	MarkMilestone(ctx context.Context, k Key, date, name string, g Grant) (bool, int64, error)

	GetOrCreateStreakRecord(ctx context.Context, k Key) (*StreakRecord, error)
	UpdateStreakRecord(ctx context.Context, k Key, prevDate string, rec StreakRecord, grants ...Grant) (bool, error)
	UpdateBridgeFlags(ctx context.Context, k Key, week string, weekend bool) (*BridgeState, error)
	ClaimBridge(ctx context.Context, k Key, week string, g Grant) (bool, int64, error)

	Ledger(ctx context.Context, k Key, limit int) ([]LedgerEntry, error)
}

var _ Store = (*RedisStore)(nil)
