// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package incentive

import (
	"context"
	"fmt"
	"time"

	"github.com/AccelByte/extend-dwell-rewards/pkg/account"
	"github.com/AccelByte/extend-dwell-rewards/pkg/metrics"
	"github.com/AccelByte/extend-dwell-rewards/pkg/notify"
	"github.com/AccelByte/extend-dwell-rewards/pkg/policy"

	"github.com/sirupsen/logrus"
)

// StreakStore is the part of the account store the streak evaluator uses.
type StreakStore interface {
	GetOrCreateStreakRecord(ctx context.Context, k account.Key) (*account.StreakRecord, error)
	UpdateStreakRecord(ctx context.Context, k account.Key, prevDate string, rec account.StreakRecord, grants ...account.Grant) (bool, error)
}

// StreakResult describes one counted streak day.
type StreakResult struct {
	Current int
	Longest int
	Reward  int64
	Bonus   int64
}

// Streaks counts consecutive qualifying days.
type Streaks struct {
	store    StreakStore
	notifier notify.Notifier
}

// NewStreaks creates a streak evaluator.
func NewStreaks(store StreakStore, notifier notify.Notifier) *Streaks {
	return &Streaks{store: store, notifier: notifier}
}

// ComputeStreak returns rec advanced to date. changed is false when date was already counted.
func ComputeStreak(rec account.StreakRecord, date string) (account.StreakRecord, bool, error) {
	if rec.LastDate == date {
		return rec, false, nil
	}
	day, err := time.Parse(account.DateLayout, date)
	if err != nil {
		return rec, false, fmt.Errorf("invalid date %q: %w", date, err)
	}

	next := rec
	if rec.LastDate != "" && rec.LastDate == day.AddDate(0, 0, -1).Format(account.DateLayout) {
		next.Current = rec.Current + 1
	} else {
		next.Current = 1
	}
	if next.Current > next.Longest {
		next.Longest = next.Current
	}
	next.LastDate = date
	return next, true, nil
}

// Evaluate counts date as a qualifying day. Returns nil when date was already counted,
// either earlier or by a concurrent evaluation.
func (s *Streaks) Evaluate(ctx context.Context, p *policy.Policy, k account.Key, display, date string) (*StreakResult, error) {
	rec, err := s.store.GetOrCreateStreakRecord(ctx, k)
	if err != nil {
		return nil, err
	}
	next, changed, err := ComputeStreak(*rec, date)
	if err != nil || !changed {
		return nil, err
	}

	result := &StreakResult{
		Current: next.Current,
		Longest: next.Longest,
		Reward:  p.Streak.RewardFor(next.Current),
		Bonus:   p.Streak.BonusFor(next.Current),
	}
	trigger := fmt.Sprintf("streak_day_%d", next.Current)
	grants := []account.Grant{
		{
			Type:      account.EntryStreak,
			Amount:    result.Reward,
			Reason:    fmt.Sprintf("day %d streak", next.Current),
			TriggerID: trigger,
			Metadata:  map[string]string{"date": date},
		},
		{
			Type:      account.EntryStreakBonus,
			Amount:    result.Bonus,
			Reason:    fmt.Sprintf("reached a %d day streak", next.Current),
			TriggerID: trigger,
			Metadata:  map[string]string{"date": date},
		},
	}

	ok, err := s.store.UpdateStreakRecord(ctx, k, rec.LastDate, next, grants...)
	if err != nil {
		return nil, err
	}
	if !ok {
		logrus.Debugf("streak for %s on %s already counted by another evaluation", k, date)
		return nil, nil
	}

	metrics.Credited(account.EntryStreak, result.Reward)
	metrics.Credited(account.EntryStreakBonus, result.Bonus)
	logrus.WithFields(logrus.Fields{"username": k.Username, "room": k.Room}).
		Infof("streak day %d on %s (longest %d, +%d, bonus +%d)", result.Current, date, result.Longest, result.Reward, result.Bonus)

	if result.Reward > 0 || result.Bonus > 0 {
		notify.Send(ctx, s.notifier, k.Room, display,
			fmt.Sprintf("%s is on a %d day streak and earned %d coins", display, result.Current, result.Reward+result.Bonus))
	}
	return result, nil
}
