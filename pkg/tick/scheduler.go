// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package tick

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AccelByte/extend-dwell-rewards/pkg/account"
	"github.com/AccelByte/extend-dwell-rewards/pkg/common"
	"github.com/AccelByte/extend-dwell-rewards/pkg/incentive"
	"github.com/AccelByte/extend-dwell-rewards/pkg/metrics"
	"github.com/AccelByte/extend-dwell-rewards/pkg/policy"
	"github.com/AccelByte/extend-dwell-rewards/pkg/presence"

	"github.com/sirupsen/logrus"
)

const defaultWorkers = 8

// Sessions is the view of the presence manager the scheduler ticks.
type Sessions interface {
	ActiveKeys() []account.Key
	Update(ctx context.Context, k account.Key, fn func(ctx context.Context, s *presence.Session) error) error
}

// Store is the part of the account store the scheduler uses.
type Store interface {
	Credit(ctx context.Context, k account.Key, g account.Grant, opts ...account.CreditOption) (int64, error)
	IncrementDailyCounters(ctx context.Context, k account.Key, date string, minutes, earned int64) error
	UpdateLastSeen(ctx context.Context, k account.Key, t time.Time) error
}

type MilestoneEvaluator interface {
	Evaluate(ctx context.Context, p *policy.Policy, k account.Key, display, date string, minutes int) ([]string, error)
}

type StreakEvaluator interface {
	Evaluate(ctx context.Context, p *policy.Policy, k account.Key, display, date string) (*incentive.StreakResult, error)
}

type BridgeEvaluator interface {
	Evaluate(ctx context.Context, p *policy.Policy, k account.Key, display, date string) (bool, error)
}

// Options configures a Scheduler. Nil evaluators are skipped.
type Options struct {
	Sessions   Sessions
	Store      Store
	Policies   *policy.Holder
	Clock      common.Clock
	Milestones MilestoneEvaluator
	Streaks    StreakEvaluator
	Bridges    BridgeEvaluator
	// Workers bounds how many sessions are processed at once.
	Workers int
}

// Result summarizes one tick cycle.
type Result struct {
	Processed int
	Credited  int
	Skipped   int
	Failed    int
}

// Scheduler credits presence on every tick and drives the incentive evaluators.
type Scheduler struct {
	sessions   Sessions
	store      Store
	policies   *policy.Holder
	clock      common.Clock
	milestones MilestoneEvaluator
	streaks    StreakEvaluator
	bridges    BridgeEvaluator
	workers    int
}

// NewScheduler creates a reward tick scheduler.
func NewScheduler(opts Options) *Scheduler {
	clock := opts.Clock
	if clock == nil {
		clock = common.SystemClock{}
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Scheduler{
		sessions:   opts.Sessions,
		store:      opts.Store,
		policies:   opts.Policies,
		clock:      clock,
		milestones: opts.Milestones,
		streaks:    opts.Streaks,
		bridges:    opts.Bridges,
		workers:    workers,
	}
}

// Run ticks until ctx is cancelled. The period is re-read from the policy every cycle.
// Cycles are spaced from their scheduled start, so processing time does not add drift;
// a cycle that overruns its period is followed immediately, without catching up.
func (s *Scheduler) Run(ctx context.Context) {
	logrus.Infof("reward tick scheduler started")
	next := s.clock.Now()
	for {
		now := s.clock.Now()
		next = next.Add(s.policies.Load().TickPeriod())
		wait := next.Sub(now)
		if wait < 0 {
			logrus.Warnf("tick overran its period by %v", -wait)
			next, wait = now, 0
		}
		fired := make(chan struct{})
		timer := s.clock.AfterFunc(wait, func() { close(fired) })

		select {
		case <-ctx.Done():
			timer.Stop()
			logrus.Infof("reward tick scheduler stopped")
			return
		case <-fired:
			s.ProcessTick(ctx)
		}
	}
}

// ProcessTick runs one cycle over every active session. A failing session is
// logged and counted and never stops the others.
func (s *Scheduler) ProcessTick(ctx context.Context) Result {
	start := time.Now()
	p := s.policies.Load()
	now := s.clock.Now()
	keys := s.sessions.ActiveKeys()

	var processed, credited, skipped, failed int64
	jobs := make(chan account.Key)
	var wg sync.WaitGroup
	for i := 0; i < s.workers && i < len(keys); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for k := range jobs {
				paid, err := s.processSession(ctx, p, now, k)
				switch {
				case errors.Is(err, presence.ErrSessionNotFound):
					atomic.AddInt64(&skipped, 1)
				case errors.Is(err, account.ErrAccountBanned):
					atomic.AddInt64(&skipped, 1)
					logrus.Debugf("skipping banned account %s", k)
				case err != nil:
					atomic.AddInt64(&failed, 1)
					metrics.SessionFailuresTotal.WithLabelValues("credit").Inc()
					logrus.Warnf("tick failed for %s, skipping this cycle: %v", k, err)
				default:
					atomic.AddInt64(&processed, 1)
					if paid {
						atomic.AddInt64(&credited, 1)
					}
				}
			}
		}()
	}
	for _, k := range keys {
		jobs <- k
	}
	close(jobs)
	wg.Wait()

	metrics.TicksTotal.Inc()
	metrics.TickDuration.Observe(time.Since(start).Seconds())

	result := Result{
		Processed: int(processed),
		Credited:  int(credited),
		Skipped:   int(skipped),
		Failed:    int(failed),
	}
	logrus.Debugf("tick at %v: %+v", now, result)
	return result
}

// processSession ticks one session. Returns whether currency was credited.
// An error leaves the session unchanged so the next tick retries.
func (s *Scheduler) processSession(ctx context.Context, p *policy.Policy, now time.Time, k account.Key) (bool, error) {
	local := now.In(p.Location())
	today := local.Format(account.DateLayout)
	paid := false

	err := s.sessions.Update(ctx, k, func(ctx context.Context, sess *presence.Session) error {
		if sess.AFK {
			return nil
		}
		if sess.Rollover(today) {
			logrus.Debugf("calendar rollover for %s to %s", k, today)
		}

		amount, modifier := p.PresenceReward(local.Hour())
		if amount > 0 {
			meta := map[string]string{"date": today}
			if modifier != "" {
				meta["modifier"] = modifier
			}
			_, err := s.store.Credit(ctx, k, account.Grant{
				Type:      account.EntryPresence,
				Amount:    amount,
				Reason:    "presence",
				TriggerID: "tick",
				Metadata:  meta,
			}, account.WithDaily(today, 1))
			if err != nil {
				return fmt.Errorf("failed to credit presence: %w", err)
			}
			metrics.Credited(account.EntryPresence, amount)
			paid = true
		} else if err := s.store.IncrementDailyCounters(ctx, k, today, 1, 0); err != nil {
			return err
		}

		sess.MinutesToday++
		sess.LastTick = now
		if err := s.store.UpdateLastSeen(ctx, k, now); err != nil {
			metrics.SessionFailuresTotal.WithLabelValues("last_seen").Inc()
			logrus.Warnf("failed to refresh last seen for %s: %v", k, err)
		}

		s.evaluate(ctx, p, k, sess, today)
		return nil
	})
	return paid, err
}

// evaluate runs the incentive evaluators after a successful tick. Their failures
// are logged and counted; the tick itself already succeeded.
func (s *Scheduler) evaluate(ctx context.Context, p *policy.Policy, k account.Key, sess *presence.Session, today string) {
	if s.milestones != nil {
		if _, err := s.milestones.Evaluate(ctx, p, k, sess.Username, today, sess.MinutesToday); err != nil {
			metrics.SessionFailuresTotal.WithLabelValues("milestone").Inc()
			logrus.Warnf("milestone evaluation failed for %s: %v", k, err)
		}
	}

	if sess.MinutesToday != p.Streak.QualifyingMinutes {
		return
	}
	if s.streaks != nil {
		if _, err := s.streaks.Evaluate(ctx, p, k, sess.Username, today); err != nil {
			metrics.SessionFailuresTotal.WithLabelValues("streak").Inc()
			logrus.Warnf("streak evaluation failed for %s: %v", k, err)
		}
	}
	if s.bridges != nil {
		if _, err := s.bridges.Evaluate(ctx, p, k, sess.Username, today); err != nil {
			metrics.SessionFailuresTotal.WithLabelValues("bridge").Inc()
			logrus.Warnf("bridge evaluation failed for %s: %v", k, err)
		}
	}
}
