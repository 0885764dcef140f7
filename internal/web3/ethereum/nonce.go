package ethereum

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
)

// nonceTracker hands out sequential nonces per sender. The first reservation
// for an account syncs with the node's pending nonce; reset forces a resync
// after a failed submission.
type nonceTracker struct {
	mu   sync.Mutex
	next map[common.Address]uint64
}

func newNonceTracker() *nonceTracker {
	return &nonceTracker{next: make(map[common.Address]uint64)}
}

func (n *nonceTracker) reserve(ctx context.Context, backend Backend, addr common.Address) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if v, ok := n.next[addr]; ok {
		n.next[addr] = v + 1
		return v, nil
	}
	v, err := backend.PendingNonceAt(ctx, addr)
	if err != nil {
		return 0, err
	}
	n.next[addr] = v + 1
	return v, nil
}

func (n *nonceTracker) reset(addr common.Address) {
	n.mu.Lock()
	delete(n.next, addr)
	n.mu.Unlock()
}

// pendingOp remembers what was submitted for an operation key so that a
// retry re-sends the same transaction instead of creating a new one.
type pendingOp struct {
	tx       *coretypes.Transaction
	nodeArgs map[string]any
	hash     common.Hash
	receipt  *coretypes.Receipt
	at       time.Time
}

type pendingOps struct {
	mu  sync.Mutex
	ttl time.Duration
	ops map[string]*pendingOp
}

func newPendingOps(ttl time.Duration) *pendingOps {
	return &pendingOps{ttl: ttl, ops: make(map[string]*pendingOp)}
}

func (p *pendingOps) get(key string) (pendingOp, bool) {
	if key == "" {
		return pendingOp{}, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	op, ok := p.ops[key]
	if !ok {
		return pendingOp{}, false
	}
	return *op, true
}

func (p *pendingOps) put(key string, op pendingOp) {
	if key == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	op.at = time.Now()
	p.ops[key] = &op
	p.pruneLocked(op.at)
}

func (p *pendingOps) complete(key string, receipt *coretypes.Receipt) {
	if key == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if op, ok := p.ops[key]; ok {
		op.receipt = receipt
		op.at = time.Now()
	}
}

func (p *pendingOps) drop(key string) {
	p.mu.Lock()
	delete(p.ops, key)
	p.mu.Unlock()
}

// pruneLocked forgets completed operations older than the ttl. Unfinished
// ones are kept so their transaction can still be re-sent.
func (p *pendingOps) pruneLocked(now time.Time) {
	for key, op := range p.ops {
		if op.receipt != nil && now.Sub(op.at) > p.ttl {
			delete(p.ops, key)
		}
	}
}
