// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package presence

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/AccelByte/extend-dwell-rewards/pkg/account"
	"github.com/AccelByte/extend-dwell-rewards/pkg/common"
	"github.com/AccelByte/extend-dwell-rewards/pkg/incentive"
	"github.com/AccelByte/extend-dwell-rewards/pkg/metrics"
	"github.com/AccelByte/extend-dwell-rewards/pkg/policy"

	"github.com/sirupsen/logrus"
)

// ErrSessionNotFound is returned when no active session exists for a user and room.
var ErrSessionNotFound = errors.New("session not found")

// finalizeTimeout bounds the store write of a deferred finalization.
const finalizeTimeout = 5 * time.Second

// Store is the part of the account store the manager uses.
type Store interface {
	GetOrCreateAccount(ctx context.Context, k account.Key) (*account.Account, bool, error)
	UpdateLastSeen(ctx context.Context, k account.Key, t time.Time) error
	GetDailyCounters(ctx context.Context, k account.Key, date string) (*account.DailyCounters, error)
}

// Onboarder evaluates onboarding rewards for a genuine arrival.
type Onboarder interface {
	Evaluate(ctx context.Context, p *policy.Policy, a incentive.Arrival) ([]string, error)
}

// ArrivalHook is told about every genuine arrival, after onboarding.
type ArrivalHook func(ctx context.Context, a incentive.Arrival)

// Options configures a Manager.
type Options struct {
	Store    Store
	Policies *policy.Holder
	// Clock defaults to the system clock.
	Clock      common.Clock
	Onboarding Onboarder
	Hooks      []ArrivalHook
}

// Manager owns the session table and the debounce ledger.
type Manager struct {
	store      Store
	policies   *policy.Holder
	clock      common.Clock
	onboarding Onboarder
	hooks      []ArrivalHook

	locks keyLocks

	mu         sync.Mutex
	sessions   map[account.Key]*Session
	departures map[account.Key]*departure
	generation uint64
	stopped    bool
}

// NewManager creates a presence lifecycle manager.
func NewManager(opts Options) *Manager {
	clock := opts.Clock
	if clock == nil {
		clock = common.SystemClock{}
	}
	return &Manager{
		store:      opts.Store,
		policies:   opts.Policies,
		clock:      clock,
		onboarding: opts.Onboarding,
		hooks:      opts.Hooks,
		sessions:   make(map[account.Key]*Session),
		departures: make(map[account.Key]*departure),
	}
}

// HandleArrival processes a join. Returns true only for a genuine arrival.
// A store failure during classification still creates a non-genuine session and
// returns the error.
func (m *Manager) HandleArrival(ctx context.Context, username, room string) (bool, error) {
	p := m.policies.Load()
	if p.IsExcluded(username) {
		return false, nil
	}
	k := account.NewKey(username, room)
	display := strings.TrimSpace(username)

	scope := common.NewScope(ctx, "presence.HandleArrival").WithUser(k.Username, room)
	defer scope.Finish()
	ctx = scope.Ctx

	unlock := m.locks.Lock(k.String())
	defer unlock()

	now := m.clock.Now()
	window := p.DebounceWindow()
	today := now.In(p.Location()).Format(account.DateLayout)

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return false, nil
	}
	if _, ok := m.sessions[k]; ok {
		m.mu.Unlock()
		metrics.ArrivalsTotal.WithLabelValues("duplicate").Inc()
		scope.Log.Debugf("duplicate arrival ignored")
		return false, nil
	}
	dep := m.departures[k]
	if dep != nil {
		dep.timer.Stop()
		delete(m.departures, k)
		if now.Sub(dep.departedAt) < window {
			s := dep.session
			s.Genuine = false
			m.addSessionLocked(k, s)
			m.mu.Unlock()
			metrics.ArrivalsTotal.WithLabelValues("bounce").Inc()
			scope.TraceEvent("bounce")
			scope.Log.Infof("bounce after %v, session restored (connected at %v)",
				now.Sub(dep.departedAt), s.ConnectedAt)
			return false, nil
		}
	}
	m.mu.Unlock()

	acc, created, err := m.store.GetOrCreateAccount(ctx, k)
	if err != nil {
		m.addSession(k, newSession(k, display, now, false, today))
		metrics.ArrivalsTotal.WithLabelValues("unclassified").Inc()
		scope.TraceError(err)
		return false, fmt.Errorf("failed to classify arrival of %s: %w", k, err)
	}

	if dep == nil && !created && !acc.LastSeen.IsZero() && now.Sub(acc.LastSeen) < window {
		connectedAt := acc.LastSeen
		if connectedAt.After(now) {
			connectedAt = now
		}
		s := newSession(k, display, connectedAt, false, today)
		m.restoreMinutes(ctx, scope, s)
		m.addSession(k, s)
		metrics.ArrivalsTotal.WithLabelValues("bounce").Inc()
		scope.TraceEvent("bounce from last seen")
		scope.Log.Infof("bounce from persisted last seen %v", acc.LastSeen)
		return false, nil
	}

	s := newSession(k, display, now, true, today)
	m.restoreMinutes(ctx, scope, s)
	if !m.addSession(k, s) {
		return false, nil
	}
	metrics.ArrivalsTotal.WithLabelValues("genuine").Inc()
	scope.TraceEvent("genuine arrival")

	prior := acc.LastSeen
	if dep != nil && dep.departedAt.After(prior) {
		prior = dep.departedAt
	}
	if err := m.store.UpdateLastSeen(ctx, k, now); err != nil {
		scope.Log.Warnf("failed to update last seen on arrival: %v", err)
	}

	arrival := incentive.Arrival{Key: k, Display: display, Created: created, PriorLastSeen: prior, At: now}
	if m.onboarding != nil {
		if _, err := m.onboarding.Evaluate(ctx, p, arrival); err != nil {
			scope.Log.Errorf("onboarding failed: %v", err)
		}
	}
	for _, hook := range m.hooks {
		hook(ctx, arrival)
	}

	scope.Log.Infof("genuine arrival (new account: %v)", created)
	return true, nil
}

// restoreMinutes carries minutes already present today into s, so a rejoin
// continues the day's count instead of starting over.
func (m *Manager) restoreMinutes(ctx context.Context, scope *common.Scope, s *Session) {
	daily, err := m.store.GetDailyCounters(ctx, s.Key, s.CurrentDate)
	if err != nil {
		scope.Log.Warnf("failed to restore today's minutes: %v", err)
		return
	}
	s.MinutesToday = int(daily.Minutes)
}

// HandleDeparture parks the user's session for the debounce window.
// Unknown sessions and excluded identities are ignored.
func (m *Manager) HandleDeparture(ctx context.Context, username, room string) {
	p := m.policies.Load()
	if p.IsExcluded(username) {
		return
	}
	k := account.NewKey(username, room)

	unlock := m.locks.Lock(k.String())
	defer unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	s, ok := m.sessions[k]
	if !ok {
		return
	}
	delete(m.sessions, k)
	metrics.ActiveSessions.Set(float64(len(m.sessions)))

	m.generation++
	gen := m.generation
	dep := &departure{departedAt: m.clock.Now(), session: s, generation: gen}
	dep.timer = m.clock.AfterFunc(p.DebounceWindow(), func() {
		m.finalizeDeparture(k, gen)
	})
	m.departures[k] = dep

	logrus.WithFields(logrus.Fields{"username": k.Username, "room": room}).
		Debugf("departure parked for %v (generation %d)", p.DebounceWindow(), gen)
}

// finalizeDeparture closes a parked session once its debounce window elapsed.
// Finalizations superseded by a later arrival or departure are discarded.
func (m *Manager) finalizeDeparture(k account.Key, gen uint64) {
	unlock := m.locks.Lock(k.String())
	defer unlock()

	m.mu.Lock()
	dep, ok := m.departures[k]
	if !ok || dep.generation != gen {
		m.mu.Unlock()
		logrus.Debugf("stale finalization for %s (generation %d) discarded", k, gen)
		return
	}
	delete(m.departures, k)
	_, back := m.sessions[k]
	m.mu.Unlock()
	if back {
		logrus.Debugf("stale finalization for %s, user is present again", k)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()
	if err := m.store.UpdateLastSeen(ctx, k, dep.departedAt); err != nil {
		// keep the record parked: the next arrival classifies against it and Stop flushes it
		logrus.Errorf("failed to persist last seen for %s, keeping departure parked: %v", k, err)
		m.mu.Lock()
		if !m.stopped {
			m.departures[k] = dep
		}
		m.mu.Unlock()
		return
	}
	logrus.WithFields(logrus.Fields{"username": k.Username, "room": k.Room}).
		Infof("departure finalized after %v present", dep.session.Dwell(dep.departedAt))
}

// SetAFK marks an active session away from keyboard. AFK sessions neither earn
// nor advance their dwell minutes.
func (m *Manager) SetAFK(username, room string, afk bool) error {
	k := account.NewKey(username, room)
	unlock := m.locks.Lock(k.String())
	defer unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[k]
	if !ok {
		return ErrSessionNotFound
	}
	s.AFK = afk
	return nil
}

// Update runs fn on a copy of the session under the key's lock and stores the copy
// when fn succeeds. fn may perform store I/O.
func (m *Manager) Update(ctx context.Context, k account.Key, fn func(ctx context.Context, s *Session) error) error {
	unlock := m.locks.Lock(k.String())
	defer unlock()

	m.mu.Lock()
	s, ok := m.sessions[k]
	if !ok {
		m.mu.Unlock()
		return ErrSessionNotFound
	}
	working := *s
	m.mu.Unlock()

	if err := fn(ctx, &working); err != nil {
		return err
	}

	m.mu.Lock()
	*s = working
	m.mu.Unlock()
	return nil
}

// ActiveKeys returns the keys of all active sessions, sorted.
func (m *Manager) ActiveKeys() []account.Key {
	m.mu.Lock()
	keys := make([]account.Key, 0, len(m.sessions))
	for k := range m.sessions {
		keys = append(keys, k)
	}
	m.mu.Unlock()

	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})
	return keys
}

// Sessions returns a snapshot of the active sessions of room, or of every room when room is "".
func (m *Manager) Sessions(room string) []Session {
	m.mu.Lock()
	list := make([]Session, 0, len(m.sessions))
	for k, s := range m.sessions {
		if room == "" || k.Room == room {
			list = append(list, *s)
		}
	}
	m.mu.Unlock()

	sort.Slice(list, func(i, j int) bool {
		return list[i].Key.String() < list[j].Key.String()
	})
	return list
}

// Session returns a copy of the active session of username in room.
func (m *Manager) Session(username, room string) (Session, bool) {
	k := account.NewKey(username, room)
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[k]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// PendingDepartures returns the number of parked sessions.
func (m *Manager) PendingDepartures() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.departures)
}

// Stop cancels pending finalizations, flushes last-seen for active sessions and
// parked departures, and clears all in-memory state. Flush errors are logged.
func (m *Manager) Stop(ctx context.Context) {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	sessions, departures := m.sessions, m.departures
	m.sessions = make(map[account.Key]*Session)
	m.departures = make(map[account.Key]*departure)
	m.mu.Unlock()
	metrics.ActiveSessions.Set(0)

	for _, dep := range departures {
		dep.timer.Stop()
	}

	now := m.clock.Now()
	failed := 0
	for k := range sessions {
		if err := m.store.UpdateLastSeen(ctx, k, now); err != nil {
			failed++
			logrus.Errorf("failed to flush last seen for %s: %v", k, err)
		}
	}
	for k, dep := range departures {
		if err := m.store.UpdateLastSeen(ctx, k, dep.departedAt); err != nil {
			failed++
			logrus.Errorf("failed to flush last seen for %s: %v", k, err)
		}
	}

	logrus.Infof("presence manager stopped, flushed %d sessions and %d departures (%d failed)",
		len(sessions), len(departures), failed)
}

// addSession inserts s unless a session for k already exists or the manager stopped.
func (m *Manager) addSession(k account.Key, s *Session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return false
	}
	if _, ok := m.sessions[k]; ok {
		return false
	}
	m.addSessionLocked(k, s)
	return true
}

func (m *Manager) addSessionLocked(k account.Key, s *Session) {
	m.sessions[k] = s
	metrics.ActiveSessions.Set(float64(len(m.sessions)))
}
