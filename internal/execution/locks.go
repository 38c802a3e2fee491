// internal/execution/locks.go
package execution

import (
	"context"
	"sync"

	"github.com/gagliardetto/solana-go"
)

type tokenLock struct {
	ch   chan struct{}
	refs int
}

// KeyedLocker serializes work per token. Entries are created on first use
// and removed once no goroutine holds or waits for them.
type KeyedLocker struct {
	mu    sync.Mutex
	locks map[solana.PublicKey]*tokenLock
}

func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{locks: make(map[solana.PublicKey]*tokenLock)}
}

// Lock blocks until the token is free or ctx is done.
func (k *KeyedLocker) Lock(ctx context.Context, token solana.PublicKey) (unlock func(), err error) {
	k.mu.Lock()
	l, ok := k.locks[token]
	if !ok {
		l = &tokenLock{ch: make(chan struct{}, 1)}
		k.locks[token] = l
	}
	l.refs++
	k.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		k.release(token, l)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.ch
			k.release(token, l)
		})
	}, nil
}

func (k *KeyedLocker) release(token solana.PublicKey, l *tokenLock) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, token)
	}
}

// Len returns the number of live lock entries.
func (k *KeyedLocker) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
