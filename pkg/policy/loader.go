// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package policy

import (
	"fmt"
	"os"

	"github.com/AccelByte/extend-dwell-rewards/pkg/common"

	"gopkg.in/yaml.v3"
)

// LoadFile loads a policy from a YAML file on top of the defaults.
// Supports environment variable expansion in the form ${VAR_NAME} or ${VAR_NAME:default}.
func LoadFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a YAML policy document on top of the defaults and validates it.
// Maps present in the document replace the default maps entirely.
func Parse(data []byte) (*Policy, error) {
	expanded := common.ExpandEnv(string(data))

	p := Default()
	var doc Policy
	if err := yaml.Unmarshal([]byte(expanded), &doc); err != nil {
		return nil, fmt.Errorf("failed to parse policy YAML: %w", err)
	}
	// decode a second time onto the defaults so absent scalars keep their default
	if err := yaml.Unmarshal([]byte(expanded), p); err != nil {
		return nil, fmt.Errorf("failed to parse policy YAML: %w", err)
	}
	if doc.Milestones != nil {
		p.Milestones = doc.Milestones
	}
	if doc.Streak.Rewards != nil {
		p.Streak.Rewards = doc.Streak.Rewards
	}
	if doc.Streak.MilestoneBonuses != nil {
		p.Streak.MilestoneBonuses = doc.Streak.MilestoneBonuses
	}
	if doc.BonusHours.Hours != nil {
		p.BonusHours.Hours = doc.BonusHours.Hours
	}

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}
	return p, nil
}
