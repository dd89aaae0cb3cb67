// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package policy

import (
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Holder publishes the active Policy. Readers take one snapshot per evaluation,
// so a swap never yields a mix of old and new values inside one evaluation.
type Holder struct {
	current atomic.Pointer[Policy]
	path    string
}

// NewHolder creates a holder serving p. path is used by Reload and may be empty.
func NewHolder(p *Policy, path string) *Holder {
	h := &Holder{path: path}
	h.current.Store(p)
	return h
}

// Load returns the active policy snapshot.
func (h *Holder) Load() *Policy {
	return h.current.Load()
}

// Swap validates p and makes it the active policy.
// The previous policy stays active when validation fails.
func (h *Holder) Swap(p *Policy) error {
	if p == nil {
		return fmt.Errorf("policy must not be nil")
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("rejected policy swap: %w", err)
	}
	h.current.Store(p)
	logrus.Infof("reward policy swapped (tick=%ds, debounce=%dm, milestones=%d)",
		p.TickSeconds, p.DebounceMinutes, len(p.MilestoneList()))
	return nil
}

// Reload re-reads the policy file the holder was created with.
func (h *Holder) Reload() error {
	if h.path == "" {
		return fmt.Errorf("policy holder has no file to reload")
	}
	p, err := LoadFile(h.path)
	if err != nil {
		return err
	}
	return h.Swap(p)
}
