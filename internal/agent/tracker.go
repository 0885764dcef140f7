package agent

import (
	"context"
	"sync"
	"sync/atomic"

	xerrors "ChainPilot/internal/errors"
)

// Tracker 跟踪脱离请求生命周期运行的后台操作，保证进程退出前可以等待它们结束。
type Tracker struct {
	wg      sync.WaitGroup
	pending atomic.Int64
}

// Go 在后台运行 fn。
func (t *Tracker) Go(fn func()) {
	t.pending.Add(1)
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer t.pending.Add(-1)
		fn()
	}()
}

// Pending 返回尚未结束的后台操作数量。
func (t *Tracker) Pending() int {
	return int(t.pending.Load())
}

// Wait 等待所有后台操作结束，ctx 结束时返回 TIMEOUT。
func (t *Tracker) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return xerrors.Wrap(xerrors.CodeTimeout, ctx.Err(), "等待后台操作结束超时")
	}
}
