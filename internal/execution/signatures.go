// internal/execution/signatures.go
package execution

import (
	"sync"

	"github.com/gagliardetto/solana-go"
)

const defaultSignatureCapacity = 1024

// SignatureRegistry remembers signatures produced by this bot so the
// transaction monitor can skip them. Oldest entries are evicted first.
type SignatureRegistry struct {
	mu    sync.RWMutex
	set   map[solana.Signature]struct{}
	order []solana.Signature
	next  int
}

func NewSignatureRegistry(capacity int) *SignatureRegistry {
	if capacity <= 0 {
		capacity = defaultSignatureCapacity
	}
	return &SignatureRegistry{
		set:   make(map[solana.Signature]struct{}, capacity),
		order: make([]solana.Signature, capacity),
	}
}

func (r *SignatureRegistry) Register(sig solana.Signature) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.set[sig]; ok {
		return
	}
	if old := r.order[r.next]; !old.IsZero() {
		delete(r.set, old)
	}
	r.order[r.next] = sig
	r.set[sig] = struct{}{}
	r.next = (r.next + 1) % len(r.order)
}

func (r *SignatureRegistry) Contains(sig solana.Signature) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.set[sig]
	return ok
}
