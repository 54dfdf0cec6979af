package worker

import "sync"

// paymentLocks serializes register writes per payment. The event path and
// the sweep can pick up the same payment, and a register append is a
// lookup followed by a write.
type paymentLocks struct {
	mu    sync.Mutex
	locks map[string]*paymentLock
}

type paymentLock struct {
	mu   sync.Mutex
	refs int
}

func newPaymentLocks() *paymentLocks {
	return &paymentLocks{locks: make(map[string]*paymentLock)}
}

// lock blocks until id is free and returns the matching unlock.
func (l *paymentLocks) lock(id string) func() {
	l.mu.Lock()
	pl, ok := l.locks[id]
	if !ok {
		pl = &paymentLock{}
		l.locks[id] = pl
	}
	pl.refs++
	l.mu.Unlock()

	pl.mu.Lock()
	return func() {
		pl.mu.Unlock()
		l.mu.Lock()
		pl.refs--
		if pl.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}

func (l *paymentLocks) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
