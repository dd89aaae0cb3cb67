// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package handler

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// PresenceChannel is the Redis channel presence events arrive on.
const PresenceChannel = "dwell_rewards:presence"

// Presence event types.
const (
	EventArrival   = "arrival"
	EventDeparture = "departure"
	EventAFK       = "afk"
)

// PresenceEvent is one inbound presence message.
type PresenceEvent struct {
	Type     string `json:"type"`
	Username string `json:"username"`
	Room     string `json:"room"`
	AFK      bool   `json:"afk,omitempty"`
}

// Subscriber turns Redis presence messages into lifecycle calls.
type Subscriber struct {
	client   *redis.Client
	presence Presence
	channel  string
}

// NewSubscriber creates a subscriber on channel, PresenceChannel when empty.
func NewSubscriber(client *redis.Client, p Presence, channel string) *Subscriber {
	if channel == "" {
		channel = PresenceChannel
	}
	return &Subscriber{client: client, presence: p, channel: channel}
}

// Run consumes events until ctx is cancelled.
func (s *Subscriber) Run(ctx context.Context) error {
	sub := s.client.Subscribe(ctx, s.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", s.channel, err)
	}
	logrus.Infof("listening for presence events on %s", s.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			logrus.Infof("presence subscriber stopped")
			return nil
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("subscription to %s closed", s.channel)
			}
			if err := s.Dispatch(ctx, []byte(msg.Payload)); err != nil {
				logrus.Warnf("dropping presence event: %v", err)
			}
		}
	}
}

// Dispatch decodes and applies one presence message.
func (s *Subscriber) Dispatch(ctx context.Context, payload []byte) error {
	var event PresenceEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("failed to decode presence event: %w", err)
	}
	if event.Username == "" || event.Room == "" {
		return fmt.Errorf("presence event missing username or room: %s", payload)
	}

	switch event.Type {
	case EventArrival:
		if _, err := s.presence.HandleArrival(ctx, event.Username, event.Room); err != nil {
			logrus.Warnf("arrival of %s in %s: %v", event.Username, event.Room, err)
		}
	case EventDeparture:
		s.presence.HandleDeparture(ctx, event.Username, event.Room)
	case EventAFK:
		if err := s.presence.SetAFK(event.Username, event.Room, event.AFK); err != nil {
			return fmt.Errorf("failed to set afk for %s in %s: %w", event.Username, event.Room, err)
		}
	default:
		return fmt.Errorf("unknown presence event type %q", event.Type)
	}
	return nil
}
