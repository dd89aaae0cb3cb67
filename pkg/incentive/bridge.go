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

// BridgeStore is the part of the account store the bridge evaluator uses.
type BridgeStore interface {
	UpdateBridgeFlags(ctx context.Context, k account.Key, week string, weekend bool) (*account.BridgeState, error)
	ClaimBridge(ctx context.Context, k account.Key, week string, g account.Grant) (bool, int64, error)
}

// Bridges grants a weekly bonus for qualifying on both a weekend day and a weekday.
type Bridges struct {
	store    BridgeStore
	notifier notify.Notifier
}

// NewBridges creates a bridge evaluator.
func NewBridges(store BridgeStore, notifier notify.Notifier) *Bridges {
	return &Bridges{store: store, notifier: notifier}
}

// ISOWeek returns the ISO 8601 week id of t, e.g. "2026-W02".
func ISOWeek(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}

// IsWeekend reports whether t falls on a Saturday or Sunday.
func IsWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// Evaluate records date's day kind for its week and pays the bonus the first time
// both kinds are seen. Returns true when the bonus was credited by this call.
func (b *Bridges) Evaluate(ctx context.Context, p *policy.Policy, k account.Key, display, date string) (bool, error) {
	if !p.Bridge.Enabled {
		return false, nil
	}
	day, err := time.Parse(account.DateLayout, date)
	if err != nil {
		return false, fmt.Errorf("invalid date %q: %w", date, err)
	}
	week := ISOWeek(day)

	state, err := b.store.UpdateBridgeFlags(ctx, k, week, IsWeekend(day))
	if err != nil {
		return false, err
	}
	if !state.WeekendSeen || !state.WeekdaySeen || state.Claimed || p.Bridge.Bonus <= 0 {
		return false, nil
	}

	claimed, _, err := b.store.ClaimBridge(ctx, k, week, account.Grant{
		Type:      account.EntryBridge,
		Amount:    p.Bridge.Bonus,
		Reason:    "weekend and weekday presence in " + week,
		TriggerID: "bridge:" + week,
		Metadata:  map[string]string{"week": week, "date": date},
	})
	if err != nil || !claimed {
		return false, err
	}

	metrics.Credited(account.EntryBridge, p.Bridge.Bonus)
	logrus.WithFields(logrus.Fields{"username": k.Username, "room": k.Room}).
		Infof("bridge bonus claimed for %s (+%d)", week, p.Bridge.Bonus)
	notify.Send(ctx, b.notifier, k.Room, display,
		fmt.Sprintf("%s showed up on a weekday and the weekend and earned %d coins", display, p.Bridge.Bonus))
	return true, nil
}
