// Package timeout bounds a routine by a wall-clock deadline.
//
// The guarded routine runs on its own goroutine under a derived context. When
// the deadline passes the guard returns immediately and cancels that context;
// anything started with it (in particular candidate-program processes) is
// killed. The goroutine itself is abandoned and no result is produced for it.
package timeout

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"
)

var ErrTimeout = errors.New("timeout")

// Error reports a guard that expired. It matches ErrTimeout.
type Error struct {
	Name    string
	After   time.Duration
	Message string
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s timed out after %s", e.Name, e.After)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

func (e *Error) Is(target error) bool {
	return target == ErrTimeout
}

// IsTimeout reports whether err came from an expired guard.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// Guard runs routines under a deadline. A zero Timeout means unbounded.
type Guard struct {
	Name    string
	Timeout time.Duration
	Message string
}

func (g Guard) Bounded() bool {
	return g.Timeout > 0
}

func (g Guard) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("routine is required")
	}
	if !g.Bounded() {
		return call(ctx, fn)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- call(runCtx, fn)
	}()

	timer := time.NewTimer(g.Timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		select {
		case err := <-done:
			return err
		default:
		}
		return &Error{Name: g.name(), After: g.Timeout, Message: g.Message}
	}
}

func (g Guard) name() string {
	if g.Name == "" {
		return "routine"
	}
	return g.Name
}

func call(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("panic: %v\n%s", v, debug.Stack())
		}
	}()
	return fn(ctx)
}

// Seconds converts a configured budget in seconds to a duration. Nil and
// non-positive budgets are unbounded.
func Seconds(budget *float64) time.Duration {
	if budget == nil || *budget <= 0 {
		return 0
	}
	return time.Duration(*budget * float64(time.Second))
}
