package updates

import (
	"sync"
	"sync/atomic"
)

// CancelToken is a one-way cancellation flag shared by reference. Once
// cancelled it stays cancelled; a new connect cycle needs a new token.
type CancelToken struct {
	cancelled atomic.Bool
	once      sync.Once
	done      chan struct{}
}

// NewCancelToken returns an uncancelled token.
func NewCancelToken() *CancelToken {
	return &CancelToken{done: make(chan struct{})}
}

// Cancel marks the token cancelled. Repeated calls have no further effect.
func (t *CancelToken) Cancel() {
	t.once.Do(func() {
		t.cancelled.Store(true)
		close(t.done)
	})
}

// Cancelled reports whether Cancel has been called.
func (t *CancelToken) Cancelled() bool {
	return t.cancelled.Load()
}

// Done is closed when the token is cancelled.
func (t *CancelToken) Done() <-chan struct{} {
	return t.done
}
