// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package bootstrap

import (
	"errors"
	"io/fs"

	"github.com/AccelByte/extend-dwell-rewards/pkg/policy"
	"github.com/sirupsen/logrus"
)

// InitPolicy loads the reward policy from path into a reloadable holder.
// A missing file starts the service on the built-in defaults; a malformed one is an error.
func InitPolicy(path string) (*policy.Holder, error) {
	p, err := policy.LoadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		logrus.Warnf("policy file %s not found, using default reward policy", path)
		p = policy.Default()
	case err != nil:
		return nil, err
	default:
		logrus.Infof("loaded reward policy from %s", path)
	}

	logrus.Infof("reward policy: tick %s, debounce %s, timezone %s, %d milestones",
		p.TickPeriod(), p.DebounceWindow(), p.Location(), len(p.MilestoneList()))
	return policy.NewHolder(p, path), nil
}
