// Package poll waits for externally driven state to settle by repeatedly
// querying a status snapshot until a predicate holds.
package poll

import (
	"context"
	"errors"
	"fmt"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/imamik/vmaas/internal/logging"
	"github.com/imamik/vmaas/internal/metrics"
)

// State is the per-poll bookkeeping: the last snapshot observed and how many
// queries have been issued. It is discarded once the poll returns.
type State[T any] struct {
	Attempt int
	Last    T
}

// Poller queries Fetch every Interval until Done reports true.
type Poller[T any] struct {
	// Name labels the poller in logs and metrics.
	Name     string
	Interval time.Duration
	// Timeout bounds the whole wait. Zero waits until ctx is done.
	Timeout time.Duration
	// Immediate queries once before the first sleep.
	Immediate bool

	Fetch func(ctx context.Context) (T, error)
	Done  func(T) bool

	// TolerateFetchErrors keeps polling when Fetch fails instead of
	// aborting the wait.
	TolerateFetchErrors bool

	// OnSnapshot observes every successfully fetched snapshot.
	OnSnapshot func(State[T])
}

// Wait blocks until Done holds, Fetch fails, the timeout elapses or ctx is
// cancelled. The final state is returned in every case.
func (p Poller[T]) Wait(ctx context.Context) (State[T], error) {
	var st State[T]
	if p.Fetch == nil || p.Done == nil {
		return st, fmt.Errorf("poller %s: fetch and done are required", p.Name)
	}

	log := logging.FromContext(ctx).WithValues("poller", p.Name)

	cond := func(ctx context.Context) (bool, error) {
		st.Attempt++
		metrics.RecordPollAttempt(p.Name)

		snap, err := p.Fetch(ctx)
		if err != nil {
			if p.TolerateFetchErrors {
				log.V(logging.Debug).Info("status query failed, will retry", "attempt", st.Attempt, "error", err.Error())
				return false, nil
			}
			return false, err
		}
		st.Last = snap
		if p.OnSnapshot != nil {
			p.OnSnapshot(st)
		}
		return p.Done(snap), nil
	}

	var err error
	if p.Timeout > 0 {
		err = wait.PollUntilContextTimeout(ctx, p.Interval, p.Timeout, p.Immediate, cond)
	} else {
		err = wait.PollUntilContextCancel(ctx, p.Interval, p.Immediate, cond)
	}

	switch {
	case err == nil:
		return st, nil
	case wait.Interrupted(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return st, fmt.Errorf("timed out waiting for %s after %d attempts: %w", p.Name, st.Attempt, err)
	default:
		return st, fmt.Errorf("%s: %w", p.Name, err)
	}
}
