// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package presence

import (
	"time"

	"github.com/AccelByte/extend-dwell-rewards/pkg/account"
	"github.com/AccelByte/extend-dwell-rewards/pkg/common"
)

// Session is the in-memory presence of one user in one room.
type Session struct {
	Key account.Key `json:"-"`
	// Username is the display form; Key.Username is the identity.
	Username     string    `json:"username"`
	Room         string    `json:"room"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastTick     time.Time `json:"last_tick,omitempty"`
	AFK          bool      `json:"afk"`
	MinutesToday int       `json:"minutes_today"`
	CurrentDate  string    `json:"current_date"`
	Genuine      bool      `json:"genuine"`
}

func newSession(k account.Key, display string, connectedAt time.Time, genuine bool, date string) *Session {
	return &Session{
		Key:         k,
		Username:    display,
		Room:        k.Room,
		ConnectedAt: connectedAt,
		CurrentDate: date,
		Genuine:     genuine,
	}
}

// Rollover resets the day's minutes when date differs from the cached date.
// Returns true when a rollover happened.
func (s *Session) Rollover(date string) bool {
	if s.CurrentDate == date {
		return false
	}
	s.CurrentDate = date
	s.MinutesToday = 0
	return true
}

// Dwell returns how long the session has been continuously present at now.
func (s *Session) Dwell(now time.Time) time.Duration {
	if now.Before(s.ConnectedAt) {
		return 0
	}
	return now.Sub(s.ConnectedAt)
}

// departure is a parked session waiting for its debounce window to elapse.
type departure struct {
	departedAt time.Time
	session    *Session
	generation uint64
	timer      common.Timer
}
