// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package bootstrap

import (
	"github.com/AccelByte/extend-dwell-rewards/pkg/account"
	"github.com/AccelByte/extend-dwell-rewards/pkg/incentive"
	"github.com/AccelByte/extend-dwell-rewards/pkg/notify"
	"github.com/sirupsen/logrus"
)

// Evaluators groups the incentive evaluators sharing one store and notifier.
type Evaluators struct {
	Milestones *incentive.Milestones
	Streaks    *incentive.Streaks
	Bridges    *incentive.Bridges
	Onboarding *incentive.Onboarding
}

// InitEvaluators creates every incentive evaluator.
func InitEvaluators(store account.Store, notifier notify.Notifier) *Evaluators {
	evaluators := &Evaluators{
		Milestones: incentive.NewMilestones(store, notifier),
		Streaks:    incentive.NewStreaks(store, notifier),
		Bridges:    incentive.NewBridges(store, notifier),
		Onboarding: incentive.NewOnboarding(store, notifier),
	}
	logrus.Infof("initialized milestone, streak, bridge and onboarding evaluators")
	return evaluators
}
