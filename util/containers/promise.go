// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package containers

import (
	"context"
	"errors"
	"sync"
)

var ErrNotReady = errors.New("not ready")

// Promise is a value that will be produced asynchronously.
// The zero value is not usable; create one with NewPromise.
type Promise[R any] struct {
	mutex     sync.Mutex
	chanReady chan struct{}
	result    R
	err       error
	produced  bool
	cancel    func()
}

// NewPromise creates an unresolved promise.
// cancel, if non-nil, is called when a waiter gives up or the promise is cancelled.
func NewPromise[R any](cancel func()) Promise[R] {
	return Promise[R]{
		chanReady: make(chan struct{}),
		cancel:    cancel,
	}
}

func (p *Promise[R]) SetCancel(cancel func()) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.cancel = cancel
}

func (p *Promise[R]) Ready() bool {
	select {
	case <-p.chanReady:
		return true
	default:
		return false
	}
}

// Current returns the result if already produced, otherwise ErrNotReady.
func (p *Promise[R]) Current() (R, error) {
	if !p.Ready() {
		var empty R
		return empty, ErrNotReady
	}
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.result, p.err
}

// Await blocks until the result is produced or ctx expires.
// An expired ctx cancels the underlying computation.
func (p *Promise[R]) Await(ctx context.Context) (R, error) {
	select {
	case <-p.chanReady:
		p.mutex.Lock()
		defer p.mutex.Unlock()
		return p.result, p.err
	case <-ctx.Done():
		p.Cancel()
		var empty R
		return empty, ctx.Err()
	}
}

func (p *Promise[R]) Produce(result R) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.produced {
		return
	}
	p.produced = true
	p.result = result
	close(p.chanReady)
}

func (p *Promise[R]) ProduceError(err error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.produced {
		return
	}
	p.produced = true
	p.err = err
	close(p.chanReady)
}

// Cancel invokes the cancel hook unless a result was already produced.
func (p *Promise[R]) Cancel() {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.produced {
		return
	}
	if p.cancel != nil {
		p.cancel()
	}
}
