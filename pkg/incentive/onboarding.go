// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package incentive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AccelByte/extend-dwell-rewards/pkg/account"
	"github.com/AccelByte/extend-dwell-rewards/pkg/metrics"
	"github.com/AccelByte/extend-dwell-rewards/pkg/notify"
	"github.com/AccelByte/extend-dwell-rewards/pkg/policy"

	"github.com/sirupsen/logrus"
)

// Claim ids of onboarding grants.
const (
	ClaimWelcome         = "welcome"
	ClaimReturningPrefix = "returning:"
)

// OnboardingStore is the part of the account store the onboarding evaluator uses.
type OnboardingStore interface {
	ClaimOnce(ctx context.Context, k account.Key, claimID string, g account.Grant) (bool, int64, error)
}

// Arrival describes a genuine arrival for onboarding.
type Arrival struct {
	Key     account.Key
	Display string
	// Created is true when the arrival created the account.
	Created bool
	// PriorLastSeen is the last-seen time before this arrival, zero if unknown.
	PriorLastSeen time.Time
	At            time.Time
}

// Onboarding grants the welcome and returning-user bonuses on genuine arrivals.
type Onboarding struct {
	store    OnboardingStore
	notifier notify.Notifier
}

// NewOnboarding creates an onboarding evaluator.
func NewOnboarding(store OnboardingStore, notifier notify.Notifier) *Onboarding {
	return &Onboarding{store: store, notifier: notifier}
}

// Evaluate grants whichever onboarding rewards apply to a. Returns the claim ids granted.
func (o *Onboarding) Evaluate(ctx context.Context, p *policy.Policy, a Arrival) ([]string, error) {
	var granted []string
	var errs []error

	// attempted on every genuine arrival; the claim itself is once per account
	if p.Onboarding.WelcomeAmount > 0 {
		ok, err := o.claim(ctx, a, ClaimWelcome, account.Grant{
			Type:      account.EntryWelcome,
			Amount:    p.Onboarding.WelcomeAmount,
			Reason:    "first arrival",
			TriggerID: ClaimWelcome,
		})
		if err != nil {
			errs = append(errs, err)
		} else if ok {
			granted = append(granted, ClaimWelcome)
			notify.Send(ctx, o.notifier, a.Key.Room, a.Display,
				fmt.Sprintf("welcome %s! here are %d coins to get you started", a.Display, p.Onboarding.WelcomeAmount))
		}
	}

	if !a.Created && isReturning(p, a) {
		claimID := fmt.Sprintf("%s%d", ClaimReturningPrefix, a.PriorLastSeen.UnixMilli())
		days := int(a.At.Sub(a.PriorLastSeen).Hours() / 24)
		ok, err := o.claim(ctx, a, claimID, account.Grant{
			Type:      account.EntryReturning,
			Amount:    p.Onboarding.ReturningAmount,
			Reason:    fmt.Sprintf("returned after %d days", days),
			TriggerID: claimID,
		})
		if err != nil {
			errs = append(errs, err)
		} else if ok {
			granted = append(granted, claimID)
			notify.Send(ctx, o.notifier, a.Key.Room, a.Display,
				fmt.Sprintf("welcome back %s! you earned %d coins for returning", a.Display, p.Onboarding.ReturningAmount))
		}
	}

	return granted, errors.Join(errs...)
}

func isReturning(p *policy.Policy, a Arrival) bool {
	if a.PriorLastSeen.IsZero() || p.Onboarding.ReturningAmount <= 0 || p.Onboarding.ReturningAfterDays <= 0 {
		return false
	}
	return a.At.Sub(a.PriorLastSeen) > p.ReturningAfter()
}

func (o *Onboarding) claim(ctx context.Context, a Arrival, claimID string, g account.Grant) (bool, error) {
	ok, _, err := o.store.ClaimOnce(ctx, a.Key, claimID, g)
	if err != nil {
		return false, fmt.Errorf("failed to claim %s: %w", claimID, err)
	}
	if ok {
		metrics.Credited(g.Type, g.Amount)
		logrus.WithFields(logrus.Fields{"username": a.Key.Username, "room": a.Key.Room}).
			Infof("onboarding grant %s (+%d)", claimID, g.Amount)
	}
	return ok, nil
}
