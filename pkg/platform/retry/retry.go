// Package retry provides the composable retry strategies used around
// transient infrastructure calls: the OpenID Connect discovery fetch, journal
// recovery and the event projector. The index itself does not retry; its
// writes are retried only as part of a projector batch. Domain rejections are never retried; callers classify errors
// through the retriable predicate.
package retry

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"
)

// Kind enumerates the supported strategies.
type Kind string

const (
	KindNever       Kind = "never"
	KindOnce        Kind = "once"
	KindConstant    Kind = "constant"
	KindExponential Kind = "exponential"
)

// Strategy describes how a failing call is retried. The zero value behaves
// like Never.
type Strategy struct {
	Kind         Kind
	Delay        time.Duration // fixed delay for once/constant
	Initial      time.Duration // first delay for exponential
	Factor       float64       // exponential growth factor
	MaxDelay     time.Duration // exponential delay cap
	MaxRetries   int           // retries after the first attempt
	RandomFactor float64       // jitter, 0 disables
}

// Never gives up after the first failure.
func Never() Strategy {
	return Strategy{Kind: KindNever}
}

// Once retries a single time after the given delay.
func Once(delay time.Duration) Strategy {
	return Strategy{Kind: KindOnce, Delay: delay, MaxRetries: 1}
}

// Constant retries up to maxRetries times with a fixed delay.
func Constant(delay time.Duration, maxRetries int) Strategy {
	return Strategy{Kind: KindConstant, Delay: delay, MaxRetries: maxRetries}
}

// Exponential retries with a doubling back-off capped at maxDelay, with a
// 20% jitter.
func Exponential(initial, maxDelay time.Duration, maxRetries int) Strategy {
	return Strategy{
		Kind:         KindExponential,
		Initial:      initial,
		Factor:       2,
		MaxDelay:     maxDelay,
		MaxRetries:   maxRetries,
		RandomFactor: 0.2,
	}
}

// Run invokes f, retrying per the strategy while ctx is live and the returned
// error is classified retriable. The last error is returned once the strategy
// is exhausted or the context is cancelled.
func (s Strategy) Run(ctx context.Context, clk clock.Clock, retriable func(error) bool, f func() error) error {
	if s.Kind == KindNever || s.Kind == "" {
		return f()
	}
	if clk == nil {
		clk = clock.WallClock
	}

	args := retry.CallArgs{
		Func:     f,
		Clock:    clk,
		Stop:     ctx.Done(),
		Attempts: s.MaxRetries + 1,
		IsFatalError: func(err error) bool {
			return retriable != nil && !retriable(err)
		},
	}

	switch s.Kind {
	case KindOnce, KindConstant:
		args.Delay = s.Delay
	case KindExponential:
		args.Delay = s.Initial
		args.MaxDelay = s.MaxDelay
		args.BackoffFunc = retry.ExpBackoff(s.Initial, s.MaxDelay, s.Factor, s.RandomFactor > 0)
	}

	err := retry.Call(args)
	if retry.IsAttemptsExceeded(err) || retry.IsRetryStopped(err) {
		return retry.LastError(err)
	}
	return err
}
