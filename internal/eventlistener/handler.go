// internal/eventlistener/handler.go
package eventlistener

import (
	"sync"

	"github.com/gagliardetto/solana-go"
)

// SignatureSet reports signatures produced by this bot.
type SignatureSet interface {
	Contains(sig solana.Signature) bool
}

// SelfFilter drops the bot's own transactions.
type SelfFilter struct {
	Wallet     solana.PublicKey
	Signatures SignatureSet
}

// Own reports whether env was sent by this bot. The fee payer check only
// applies once the transaction is resolved.
func (f *SelfFilter) Own(env *Envelope) bool {
	if f == nil {
		return false
	}
	if f.Signatures != nil && f.Signatures.Contains(env.Signature) {
		return true
	}
	if f.Wallet.IsZero() {
		return false
	}
	payer, ok := env.FeePayer()
	return ok && payer.Equals(f.Wallet)
}

// recentSignatures is a bounded window of recently seen signatures.
type recentSignatures struct {
	mu    sync.Mutex
	set   map[solana.Signature]struct{}
	order []solana.Signature
	next  int
}

func newRecentSignatures(size int) *recentSignatures {
	if size <= 0 {
		size = 4096
	}
	return &recentSignatures{
		set:   make(map[solana.Signature]struct{}, size),
		order: make([]solana.Signature, size),
	}
}

// Add records sig and reports whether it was new.
func (r *recentSignatures) Add(sig solana.Signature) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.set[sig]; ok {
		return false
	}
	if old := r.order[r.next]; !old.IsZero() {
		delete(r.set, old)
	}
	r.order[r.next] = sig
	r.set[sig] = struct{}{}
	r.next = (r.next + 1) % len(r.order)
	return true
}
