package knowledge

import (
	"hash/fnv"
	"sync"
)

// stripedLock serializes operations per key without one mutex per key.
// Keys hash onto a fixed set of stripes; two notes on the same stripe
// contend, which is acceptable at personal-store scale.
type stripedLock struct {
	stripes []sync.Mutex
}

func newStripedLock(n int) *stripedLock {
	if n < 1 {
		n = 64
	}
	return &stripedLock{stripes: make([]sync.Mutex, n)}
}

func (l *stripedLock) stripe(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &l.stripes[h.Sum32()%uint32(len(l.stripes))]
}

func (l *stripedLock) Lock(key string)   { l.stripe(key).Lock() }
func (l *stripedLock) Unlock(key string) { l.stripe(key).Unlock() }
