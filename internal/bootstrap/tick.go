// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package bootstrap

import (
	"github.com/AccelByte/extend-dwell-rewards/pkg/account"
	"github.com/AccelByte/extend-dwell-rewards/pkg/common"
	"github.com/AccelByte/extend-dwell-rewards/pkg/policy"
	"github.com/AccelByte/extend-dwell-rewards/pkg/presence"
	"github.com/AccelByte/extend-dwell-rewards/pkg/tick"
	"github.com/sirupsen/logrus"
)

// InitScheduler wires the reward tick scheduler to the session table and evaluators.
func InitScheduler(
	manager *presence.Manager,
	store account.Store,
	policies *policy.Holder,
	clock common.Clock,
	evaluators *Evaluators,
	workers int,
) *tick.Scheduler {
	scheduler := tick.NewScheduler(tick.Options{
		Sessions:   manager,
		Store:      store,
		Policies:   policies,
		Clock:      clock,
		Milestones: evaluators.Milestones,
		Streaks:    evaluators.Streaks,
		Bridges:    evaluators.Bridges,
		Workers:    workers,
	})
	logrus.Infof("initialized reward tick scheduler with %d workers", workers)
	return scheduler
}
