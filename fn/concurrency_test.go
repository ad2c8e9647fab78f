package fn

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParSlice(t *testing.T) {
	t.Parallel()

	errFail := errors.New("shard failed")

	tests := []struct {
		name        string
		values      []int
		failOn      int
		expectedErr error
	}{
		{
			name:   "no errors",
			values: []int{1, 2, 3, 4},
			failOn: -1,
		},
		{
			name:        "one error",
			values:      []int{1, 2, 3, 4},
			failOn:      3,
			expectedErr: errFail,
		},
		{
			name:   "empty slice",
			failOn: -1,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var sum atomic.Int64
			err := ParSlice(
				context.Background(), tc.values,
				func(_ context.Context, v int) error {
					if v == tc.failOn {
						return errFail
					}
					sum.Add(int64(v))

					return nil
				},
			)
			if tc.expectedErr != nil {
				require.ErrorIs(t, err, tc.expectedErr)
				return
			}

			require.NoError(t, err)

			var want int64
			for _, v := range tc.values {
				want += int64(v)
			}
			require.Equal(t, want, sum.Load())
		})
	}
}
