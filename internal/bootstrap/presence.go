// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package bootstrap

import (
	"context"

	"github.com/AccelByte/extend-dwell-rewards/pkg/account"
	"github.com/AccelByte/extend-dwell-rewards/pkg/common"
	"github.com/AccelByte/extend-dwell-rewards/pkg/incentive"
	"github.com/AccelByte/extend-dwell-rewards/pkg/notify"
	"github.com/AccelByte/extend-dwell-rewards/pkg/policy"
	"github.com/AccelByte/extend-dwell-rewards/pkg/presence"
	"github.com/sirupsen/logrus"
)

// ArrivalPublisher announces genuine arrivals to other services.
type ArrivalPublisher interface {
	PublishArrival(ctx context.Context, event notify.ArrivalEvent) error
}

// InitPresenceManager creates the lifecycle manager. publisher may be nil.
func InitPresenceManager(
	store account.Store,
	policies *policy.Holder,
	clock common.Clock,
	onboarding presence.Onboarder,
	publisher ArrivalPublisher,
) *presence.Manager {
	var hooks []presence.ArrivalHook
	if publisher != nil {
		hooks = append(hooks, publishArrival(publisher))
	}

	manager := presence.NewManager(presence.Options{
		Store:      store,
		Policies:   policies,
		Clock:      clock,
		Onboarding: onboarding,
		Hooks:      hooks,
	})
	logrus.Infof("initialized presence manager with %d arrival hooks", len(hooks))
	return manager
}

func publishArrival(publisher ArrivalPublisher) presence.ArrivalHook {
	return func(ctx context.Context, a incentive.Arrival) {
		event := notify.ArrivalEvent{
			Username:  a.Display,
			Room:      a.Key.Room,
			FirstSeen: a.Created,
			At:        a.At,
		}
		if err := publisher.PublishArrival(ctx, event); err != nil {
			logrus.Warnf("failed to publish arrival of %s: %v", a.Key, err)
		}
	}
}
