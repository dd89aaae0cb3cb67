// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package presence

import (
	"hash/fnv"
	"sync"
)

const lockStripes = 256

// keyLocks serializes work per key with a fixed set of striped mutexes.
// Holders must never take a second key lock.
type keyLocks struct {
	stripes [lockStripes]sync.Mutex
}

// Lock locks the stripe of key and returns its unlock function.
func (l *keyLocks) Lock(key string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	mu := &l.stripes[h.Sum32()%lockStripes]
	mu.Lock()
	return mu.Unlock
}
