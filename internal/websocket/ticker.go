package websocket

import (
	"context"
	"sync"
	"time"
)

// Ticker runs a tick function immediately and then on every interval until the
// function reports false or the ticker is stopped
// ARCHITECTURAL DISCOVERY: The handle owns both the cancel func and the done channel,
// so teardown can cancel the goroutine and wait for it in one call
type Ticker struct {
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// StartTicker launches the ticker goroutine
func StartTicker(parent context.Context, interval time.Duration, tick func(ctx context.Context) bool) *Ticker {
	ctx, cancel := context.WithCancel(parent)
	t := &Ticker{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(t.done)
		defer cancel()

		if !tick(ctx) {
			return
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if ctx.Err() != nil || !tick(ctx) {
					return
				}
			}
		}
	}()

	return t
}

// Stop cancels the ticker and waits for its goroutine to exit; safe to call repeatedly
func (t *Ticker) Stop() {
	t.stopOnce.Do(t.cancel)
	<-t.done
}

// Done is closed once the ticker goroutine has exited
func (t *Ticker) Done() <-chan struct{} {
	return t.done
}
