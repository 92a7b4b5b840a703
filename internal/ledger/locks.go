package ledger

import "sync"

// holdingKey identifies one (user, ticker) position.
type holdingKey struct {
	user   string
	ticker string
}

// keyedMutex hands out one mutex per (user, ticker) key so that trades on
// the same position serialize while trades on disjoint positions never block
// each other.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[holdingKey]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[holdingKey]*sync.Mutex)}
}

func (k *keyedMutex) get(key holdingKey) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()

	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	return m
}
