package poll

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoller_WaitsForPredicate(t *testing.T) {
	t.Parallel()

	values := []int{3, 2, 1, 0}
	var seen []int
	p := Poller[int]{
		Name:      "countdown",
		Interval:  time.Millisecond,
		Immediate: true,
		Fetch: func(context.Context) (int, error) {
			v := values[0]
			values = values[1:]
			return v, nil
		},
		Done:       func(v int) bool { return v == 0 },
		OnSnapshot: func(st State[int]) { seen = append(seen, st.Last) },
	}

	st, err := p.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, st.Attempt)
	assert.Equal(t, 0, st.Last)
	assert.Equal(t, []int{3, 2, 1, 0}, seen)
}

func TestPoller_FetchErrorAborts(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	p := Poller[string]{
		Name:      "nodes",
		Interval:  time.Millisecond,
		Immediate: true,
		Fetch:     func(context.Context) (string, error) { return "", boom },
		Done:      func(string) bool { return true },
	}

	st, err := p.Wait(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, st.Attempt)
}

func TestPoller_TolerateFetchErrors(t *testing.T) {
	t.Parallel()

	calls := 0
	p := Poller[bool]{
		Name:                "flaky",
		Interval:            time.Millisecond,
		Immediate:           true,
		TolerateFetchErrors: true,
		Fetch: func(context.Context) (bool, error) {
			calls++
			if calls < 3 {
				return false, errors.New("connection refused")
			}
			return true, nil
		},
		Done: func(b bool) bool { return b },
	}

	st, err := p.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, st.Attempt)
}

func TestPoller_Timeout(t *testing.T) {
	t.Parallel()

	p := Poller[int]{
		Name:     "never",
		Interval: 5 * time.Millisecond,
		Timeout:  30 * time.Millisecond,
		Fetch:    func(context.Context) (int, error) { return 1, nil },
		Done:     func(int) bool { return false },
	}

	st, err := p.Wait(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out waiting for never")
	assert.Positive(t, st.Attempt)
}

func TestPoller_ContextCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	p := Poller[int]{
		Name:      "cancel",
		Interval:  time.Millisecond,
		Immediate: true,
		Fetch: func(context.Context) (int, error) {
			cancel()
			return 0, nil
		},
		Done: func(int) bool { return false },
	}

	_, err := p.Wait(ctx)
	require.Error(t, err)
}

func TestPoller_RequiresFuncs(t *testing.T) {
	t.Parallel()

	_, err := Poller[int]{Name: "empty"}.Wait(context.Background())
	assert.Error(t, err)
}
