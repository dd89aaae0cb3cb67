// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package bootstrap

import (
	"github.com/AccelByte/extend-dwell-rewards/pkg/notify"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// InitNotifier builds the notification sink. Room messages always reach the log;
// with publish set they are also published on Redis.
func InitNotifier(client *redis.Client, publish bool) notify.Notifier {
	sinks := notify.Fanout{notify.LogNotifier{}}
	if publish && client != nil {
		sinks = append(sinks, notify.NewRedisNotifier(client))
	}
	logrus.Infof("initialized notifier with %d sinks", len(sinks))
	return sinks
}
