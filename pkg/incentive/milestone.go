// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package incentive

import (
	"context"
	"errors"
	"fmt"

	"github.com/AccelByte/extend-dwell-rewards/pkg/account"
	"github.com/AccelByte/extend-dwell-rewards/pkg/metrics"
	"github.com/AccelByte/extend-dwell-rewards/pkg/notify"
	"github.com/AccelByte/extend-dwell-rewards/pkg/policy"

	"github.com/sirupsen/logrus"
)

// MilestoneStore is the part of the account store the milestone evaluator uses.
type MilestoneStore interface {
	GetOrCreateDailyMilestones(ctx context.Context, k account.Key, date string) (*account.MilestoneRecord, error)
	MarkMilestone(ctx context.Context, k account.Key, date, name string, g account.Grant) (bool, int64, error)
}

// Milestones grants hourly dwell milestones once per date.
type Milestones struct {
	store    MilestoneStore
	notifier notify.Notifier
}

// NewMilestones creates a milestone evaluator.
func NewMilestones(store MilestoneStore, notifier notify.Notifier) *Milestones {
	return &Milestones{store: store, notifier: notifier}
}

// Evaluate claims every milestone reached by minutes on date that is not yet claimed.
// Returns the names claimed by this call. A failing milestone does not stop the others.
func (m *Milestones) Evaluate(ctx context.Context, p *policy.Policy, k account.Key, display, date string, minutes int) ([]string, error) {
	list := p.MilestoneList()
	if len(list) == 0 || minutes < list[0].Minutes {
		return nil, nil
	}

	rec, err := m.store.GetOrCreateDailyMilestones(ctx, k, date)
	if err != nil {
		return nil, err
	}

	var claimed []string
	var errs []error
	for _, ms := range list {
		if minutes < ms.Minutes {
			break
		}
		if rec.IsClaimed(ms.Name) {
			continue
		}

		ok, _, err := m.store.MarkMilestone(ctx, k, date, ms.Name, account.Grant{
			Type:      account.EntryMilestone,
			Amount:    ms.Reward,
			Reason:    fmt.Sprintf("%d hours present on %s", ms.Minutes/60, date),
			TriggerID: ms.Name,
			Metadata:  map[string]string{"date": date},
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to mark milestone %s: %w", ms.Name, err))
			continue
		}
		if !ok {
			continue
		}

		claimed = append(claimed, ms.Name)
		metrics.Credited(account.EntryMilestone, ms.Reward)
		logrus.WithFields(logrus.Fields{"username": k.Username, "room": k.Room}).
			Infof("milestone %s claimed on %s (+%d)", ms.Name, date, ms.Reward)
		notify.Send(ctx, m.notifier, k.Room, display,
			fmt.Sprintf("%s has been here %d hours today and earned %d coins", display, ms.Minutes/60, ms.Reward))
	}

	return claimed, errors.Join(errs...)
}
