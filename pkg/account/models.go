// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package account

import (
	"errors"
	"time"

	"github.com/AccelByte/extend-dwell-rewards/pkg/common"
)

var (
	// ErrInsufficientBalance is returned by Debit when the balance is lower than the amount.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrAccountBanned is returned when a mutation targets a banned account.
	ErrAccountBanned = errors.New("account is banned")
	// ErrAccountNotFound is returned when a read or debit targets an unknown account.
	ErrAccountNotFound = errors.New("account not found")
)

// Ledger entry types.
const (
	EntryPresence    = "presence"
	EntryMilestone   = "milestone"
	EntryStreak      = "streak"
	EntryStreakBonus = "streak_bonus"
	EntryBridge      = "bridge"
	EntryWelcome     = "welcome"
	EntryReturning   = "returning"
	EntryDebit       = "debit"
)

// DateLayout is the calendar date format used in keys and records.
const DateLayout = "2006-01-02"

// Key identifies an account: one per (username, room).
type Key struct {
	Username string `json:"username"`
	Room     string `json:"room"`
}

// NewKey builds a Key with the case-insensitive form of username.
func NewKey(username, room string) Key {
	return Key{Username: common.NormalizeIdentity(username), Room: room}
}

func (k Key) String() string {
	return k.Room + ":" + k.Username
}

// Account is the durable per-(user, room) record.
type Account struct {
	Username       string    `json:"username"`
	Room           string    `json:"room"`
	Balance        int64     `json:"balance"`
	LifetimeEarned int64     `json:"lifetime_earned"`
	LastSeen       time.Time `json:"last_seen,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	Banned         bool      `json:"banned"`
}

// Grant describes a credit to apply to an account.
type Grant struct {
	Type      string
	Amount    int64
	Reason    string
	TriggerID string
	Metadata  map[string]string
}

// LedgerEntry is one recorded balance change.
type LedgerEntry struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Amount    int64             `json:"amount"`
	Reason    string            `json:"reason,omitempty"`
	TriggerID string            `json:"trigger_id,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// DailyCounters are the per-date presence totals of an account.
type DailyCounters struct {
	Date    string `json:"date"`
	Minutes int64  `json:"minutes"`
	Earned  int64  `json:"earned"`
}

// MilestoneRecord lists the hourly milestones claimed on one date.
type MilestoneRecord struct {
	Date    string          `json:"date"`
	Claimed map[string]bool `json:"claimed"`
}

// IsClaimed reports whether the named milestone was already claimed.
func (r *MilestoneRecord) IsClaimed(name string) bool {
	return r.Claimed[name]
}

// StreakRecord is the durable daily streak and weekly bridge state.
type StreakRecord struct {
	Current  int         `json:"current"`
	Longest  int         `json:"longest"`
	LastDate string      `json:"last_date,omitempty"`
	Bridge   BridgeState `json:"bridge"`
}

// BridgeState tracks which day kinds were qualified in the current ISO week.
type BridgeState struct {
	Week        string `json:"week,omitempty"`
	WeekendSeen bool   `json:"weekend_seen"`
	WeekdaySeen bool   `json:"weekday_seen"`
	Claimed     bool   `json:"claimed"`
}
