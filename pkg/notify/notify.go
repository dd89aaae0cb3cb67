// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

const (
	// NotifyChannelPrefix is the Redis channel prefix of room messages
	NotifyChannelPrefix = "dwell_rewards:notify:"
	// ArrivalChannel carries genuine arrival events for downstream collaborators
	ArrivalChannel = "dwell_rewards:arrivals"
)

// Notifier delivers a short message addressed to a user in a room.
type Notifier interface {
	Notify(ctx context.Context, room, username, message string) error
}

// Send delivers through n and swallows the failure. Notifications never affect accounting.
func Send(ctx context.Context, n Notifier, room, username, message string) {
	if n == nil {
		return
	}
	if err := n.Notify(ctx, room, username, message); err != nil {
		logrus.Warnf("failed to notify %s in %s: %v", username, room, err)
	}
}

// LogNotifier writes notifications to the log.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, room, username, message string) error {
	logrus.WithFields(logrus.Fields{"room": room, "username": username}).Info(message)
	return nil
}

// Message is the payload published for a room notification.
type Message struct {
	Room     string    `json:"room"`
	Username string    `json:"username"`
	Message  string    `json:"message"`
	SentAt   time.Time `json:"sent_at"`
}

// ArrivalEvent is published once per genuine arrival.
type ArrivalEvent struct {
	Username  string    `json:"username"`
	Room      string    `json:"room"`
	FirstSeen bool      `json:"first_seen"`
	At        time.Time `json:"at"`
}

// RedisNotifier publishes notifications to per-room Redis channels.
type RedisNotifier struct {
	client *redis.Client
}

// NewRedisNotifier creates a notifier publishing on client.
func NewRedisNotifier(client *redis.Client) *RedisNotifier {
	return &RedisNotifier{client: client}
}

func (n *RedisNotifier) Notify(ctx context.Context, room, username, message string) error {
	return n.publish(ctx, NotifyChannelPrefix+room, Message{
		Room:     room,
		Username: username,
		Message:  message,
		SentAt:   time.Now().UTC(),
	})
}

// PublishArrival emits a genuine arrival for rank and retention collaborators.
func (n *RedisNotifier) PublishArrival(ctx context.Context, event ArrivalEvent) error {
	return n.publish(ctx, ArrivalChannel, event)
}

func (n *RedisNotifier) publish(ctx context.Context, channel string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	if err := n.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}
	return nil
}

// Fanout delivers to every notifier and joins their failures.
type Fanout []Notifier

func (f Fanout) Notify(ctx context.Context, room, username, message string) error {
	var errs []error
	for _, n := range f {
		if err := n.Notify(ctx, room, username, message); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
