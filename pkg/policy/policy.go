// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package policy

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/AccelByte/extend-dwell-rewards/pkg/common"
)

// milestonePrefix is the key prefix of hour-based milestones, e.g. "hours_3".
const milestonePrefix = "hours_"

// Policy is the complete reward configuration.
// A Policy is immutable once handed to a Holder; callers read it by value per evaluation.
type Policy struct {
	DebounceMinutes    int              `yaml:"debounce_minutes"`
	TickSeconds        int              `yaml:"tick_seconds"`
	Timezone           string           `yaml:"timezone"`
	BaseRate           int64            `yaml:"base_rate"`
	BonusHours         BonusHours       `yaml:"bonus_hours"`
	Milestones         map[string]int64 `yaml:"milestones"`
	Streak             StreakPolicy     `yaml:"streak"`
	Bridge             BridgePolicy     `yaml:"bridge"`
	Onboarding         OnboardingPolicy `yaml:"onboarding"`
	ExcludedIdentities []string         `yaml:"excluded_identities"`

	location *time.Location
	excluded map[string]struct{}
}

// BonusHours multiplies the base rate during the listed hours of day.
type BonusHours struct {
	Hours      []int   `yaml:"hours"`
	Multiplier float64 `yaml:"multiplier"`
	Label      string  `yaml:"label"`
}

// StreakPolicy configures daily streak qualification and rewards.
type StreakPolicy struct {
	QualifyingMinutes int           `yaml:"qualifying_minutes"`
	Rewards           map[int]int64 `yaml:"rewards"`
	MilestoneBonuses  map[int]int64 `yaml:"milestone_bonuses"`
}

// BridgePolicy configures the weekly weekend/weekday bridge bonus.
type BridgePolicy struct {
	Enabled bool  `yaml:"enabled"`
	Bonus   int64 `yaml:"bonus"`
}

// OnboardingPolicy configures the welcome grant and the returning-user bonus.
type OnboardingPolicy struct {
	WelcomeAmount      int64 `yaml:"welcome_amount"`
	ReturningAmount    int64 `yaml:"returning_amount"`
	ReturningAfterDays int   `yaml:"returning_after_days"`
}

// Milestone is a parsed hourly milestone.
type Milestone struct {
	Name    string
	Minutes int
	Reward  int64
}

// Default returns the reference configuration.
func Default() *Policy {
	p := &Policy{
		DebounceMinutes: 10,
		TickSeconds:     60,
		Timezone:        "UTC",
		BaseRate:        1,
		BonusHours: BonusHours{
			Hours:      []int{0, 1, 2, 3, 4, 5},
			Multiplier: 2,
			Label:      "night_owl",
		},
		Milestones: map[string]int64{
			"hours_1": 10,
			"hours_3": 30,
			"hours_6": 75,
		},
		Streak: StreakPolicy{
			QualifyingMinutes: 30,
			Rewards: map[int]int64{
				2: 5,
				3: 10,
				4: 15,
				5: 20,
				6: 25,
				7: 50,
			},
			MilestoneBonuses: map[int]int64{
				7:  100,
				30: 500,
			},
		},
		Bridge: BridgePolicy{
			Enabled: true,
			Bonus:   25,
		},
		Onboarding: OnboardingPolicy{
			WelcomeAmount:      50,
			ReturningAmount:    25,
			ReturningAfterDays: 14,
		},
	}
	if err := p.Validate(); err != nil {
		panic(fmt.Sprintf("default policy is invalid: %v", err))
	}
	return p
}

// Validate checks structural constraints and prepares derived lookups.
// Unrecognized milestone keys are not an error; they are skipped by Milestones.
func (p *Policy) Validate() error {
	if p.DebounceMinutes < 0 {
		return fmt.Errorf("debounce_minutes must be non-negative, got %d", p.DebounceMinutes)
	}
	if p.TickSeconds <= 0 {
		return fmt.Errorf("tick_seconds must be positive, got %d", p.TickSeconds)
	}
	if p.BaseRate < 0 {
		return fmt.Errorf("base_rate must be non-negative, got %d", p.BaseRate)
	}
	if p.BonusHours.Multiplier < 0 {
		return fmt.Errorf("bonus_hours.multiplier must be non-negative, got %v", p.BonusHours.Multiplier)
	}
	for _, h := range p.BonusHours.Hours {
		if h < 0 || h > 23 {
			return fmt.Errorf("bonus_hours.hours contains invalid hour %d", h)
		}
	}
	if p.Streak.QualifyingMinutes <= 0 {
		return fmt.Errorf("streak.qualifying_minutes must be positive, got %d", p.Streak.QualifyingMinutes)
	}
	if p.Bridge.Bonus < 0 {
		return fmt.Errorf("bridge.bonus must be non-negative, got %d", p.Bridge.Bonus)
	}
	if p.Onboarding.WelcomeAmount < 0 || p.Onboarding.ReturningAmount < 0 {
		return fmt.Errorf("onboarding amounts must be non-negative")
	}
	if p.Onboarding.ReturningAfterDays < 0 {
		return fmt.Errorf("onboarding.returning_after_days must be non-negative, got %d", p.Onboarding.ReturningAfterDays)
	}

	tz := p.Timezone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return fmt.Errorf("invalid timezone %q: %w", p.Timezone, err)
	}
	p.location = loc

	p.excluded = make(map[string]struct{}, len(p.ExcludedIdentities))
	for _, id := range p.ExcludedIdentities {
		p.excluded[common.NormalizeIdentity(id)] = struct{}{}
	}

	return nil
}

// Location returns the time zone calendar days are evaluated in.
func (p *Policy) Location() *time.Location {
	if p.location == nil {
		return time.UTC
	}
	return p.location
}

// DebounceWindow returns the reconnect window as a duration.
func (p *Policy) DebounceWindow() time.Duration {
	return time.Duration(p.DebounceMinutes) * time.Minute
}

// TickPeriod returns the reward tick period.
func (p *Policy) TickPeriod() time.Duration {
	return time.Duration(p.TickSeconds) * time.Second
}

// ReturningAfter returns the absence after which a genuine arrival earns the returning bonus.
func (p *Policy) ReturningAfter() time.Duration {
	return time.Duration(p.Onboarding.ReturningAfterDays) * 24 * time.Hour
}

// IsExcluded reports whether username is never tracked.
func (p *Policy) IsExcluded(username string) bool {
	_, ok := p.excluded[common.NormalizeIdentity(username)]
	return ok
}

// PresenceReward returns the per-minute amount for a tick at the given local hour
// and the label of the modifier applied, "" when the base rate is used.
func (p *Policy) PresenceReward(hour int) (int64, string) {
	for _, h := range p.BonusHours.Hours {
		if h == hour {
			label := p.BonusHours.Label
			if label == "" {
				label = "bonus_hours"
			}
			return int64(math.Floor(float64(p.BaseRate) * p.BonusHours.Multiplier)), label
		}
	}
	return p.BaseRate, ""
}

// MilestoneList returns valid milestones ordered by ascending threshold.
// Keys that are not of the form hours_<n> with n > 0, and non-positive rewards, are ignored.
func (p *Policy) MilestoneList() []Milestone {
	list := make([]Milestone, 0, len(p.Milestones))
	for name, reward := range p.Milestones {
		hours, ok := parseMilestoneHours(name)
		if !ok || reward <= 0 {
			continue
		}
		list = append(list, Milestone{Name: name, Minutes: hours * 60, Reward: reward})
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].Minutes < list[j].Minutes
	})
	return list
}

func parseMilestoneHours(name string) (int, bool) {
	if !strings.HasPrefix(name, milestonePrefix) {
		return 0, false
	}
	hours, err := strconv.Atoi(strings.TrimPrefix(name, milestonePrefix))
	if err != nil || hours <= 0 {
		return 0, false
	}
	return hours, true
}

// RewardFor returns the streak reward for a day length.
// Day 1 earns nothing. Past the highest configured day, that day's reward is reused.
func (s *StreakPolicy) RewardFor(day int) int64 {
	if day < 2 {
		return 0
	}
	if reward, ok := s.Rewards[day]; ok {
		return reward
	}
	maxDay := 0
	for d := range s.Rewards {
		if d > maxDay {
			maxDay = d
		}
	}
	if maxDay > 0 && day > maxDay {
		return s.Rewards[maxDay]
	}
	return 0
}

// BonusFor returns the one-time bonus for reaching exactly day, or 0.
func (s *StreakPolicy) BonusFor(day int) int64 {
	return s.MilestoneBonuses[day]
}
