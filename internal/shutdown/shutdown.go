// Package shutdown provides the process-wide cooperative cancellation signal.
//
// A Signal is set at most once and never cleared. It can be polled from
// synchronous loops with Stopped and raced in select statements with Done.
package shutdown

import (
	"context"
	"os"
	"os/signal"
)

// Signal is a cooperative, one-shot stop flag shared by every long-lived loop.
type Signal struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// New returns a Signal that fires when Stop is called or parent is done.
func New(parent context.Context) *Signal {
	ctx, cancel := context.WithCancel(parent)
	return &Signal{ctx: ctx, cancel: cancel}
}

// Notify returns a Signal that additionally fires on the first of the given
// OS signals. The returned release function stops signal delivery.
func Notify(parent context.Context, sigs ...os.Signal) (*Signal, context.CancelFunc) {
	ctx, release := signal.NotifyContext(parent, sigs...)
	return New(ctx), release
}

// Stop fires the signal. Calling it more than once has no further effect.
func (s *Signal) Stop() {
	s.cancel()
}

// Stopped reports whether the signal has fired.
func (s *Signal) Stopped() bool {
	return s.ctx.Err() != nil
}

// Done returns a channel that is closed once the signal fires.
func (s *Signal) Done() <-chan struct{} {
	return s.ctx.Done()
}

// Context returns a context that is cancelled once the signal fires.
func (s *Signal) Context() context.Context {
	return s.ctx
}
