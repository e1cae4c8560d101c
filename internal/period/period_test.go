package period

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestID(t *testing.T) {
	tt := []struct {
		name            string
		tsMs            int64
		intervalSeconds int64

		expected int64
	}{
		{
			name:            "just before boundary",
			tsMs:            299_999,
			intervalSeconds: 300,

			expected: 0,
		},
		{
			name:            "on boundary",
			tsMs:            300_000,
			intervalSeconds: 300,

			expected: 1,
		},
		{
			name:            "zero timestamp",
			tsMs:            0,
			intervalSeconds: 300,

			expected: 0,
		},
		{
			name:            "one minute interval",
			tsMs:            60_000_000,
			intervalSeconds: 60,

			expected: 1000,
		},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expected, ID(tc.tsMs, tc.intervalSeconds))
		})
	}
}

func TestIDNonDecreasing(t *testing.T) {
	prev := int64(-1)
	for ts := int64(0); ts < 2_000_000; ts += 17_321 {
		id := ID(ts, 300)
		require.GreaterOrEqual(t, id, prev)
		prev = id
	}
}

type fakeClock struct {
	tsMs int64
	err  error
}

func (f *fakeClock) OnChainTimeMs(_ context.Context) (int64, error) {
	return f.tsMs, f.err
}

func TestCurrent(t *testing.T) {
	// given
	clock := &fakeClock{tsMs: 300_000}

	// when
	id, err := Current(context.Background(), clock, 300)

	// then
	require.NoError(t, err)
	require.Equal(t, int64(1), id)

	// given
	clock.err = errors.New("rpc down")

	// when
	_, err = Current(context.Background(), clock, 300)

	// then
	require.Error(t, err)

	// when then
	_, err = Current(context.Background(), clock, 0)
	require.ErrorIs(t, err, ErrInvalidInterval)
}
