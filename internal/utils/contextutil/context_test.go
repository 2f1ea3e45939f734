package contextutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeoutHelpers(t *testing.T) {
	cases := []struct {
		name    string
		derive  func(context.Context) (context.Context, context.CancelFunc)
		timeout time.Duration
	}{
		{"default", WithTimeout, DefaultTimeout},
		{"short", WithShortTimeout, ShortTimeout},
		{"window", WithWindowTimeout, WindowTimeout},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx, cancel := tc.derive(context.Background())
			defer cancel()

			deadline, ok := ctx.Deadline()
			require.True(t, ok)
			remaining := time.Until(deadline)
			assert.Greater(t, remaining, tc.timeout-time.Second)
			assert.LessOrEqual(t, remaining, tc.timeout)
		})
	}
}

func TestWithCustomTimeout(t *testing.T) {
	ctx, cancel := WithCustomTimeout(context.Background(), 42*time.Millisecond)
	defer cancel()
	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	assert.LessOrEqual(t, time.Until(deadline), 42*time.Millisecond)
}

func TestDerivedContextInheritsCancellation(t *testing.T) {
	parent, cancelParent := context.WithCancel(context.Background())
	ctx, cancel := WithWindowTimeout(parent)
	defer cancel()

	cancelParent()
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}

func TestTighterParentDeadlineWins(t *testing.T) {
	parent, cancelParent := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancelParent()
	ctx, cancel := WithWindowTimeout(parent)
	defer cancel()

	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	assert.LessOrEqual(t, time.Until(deadline), 10*time.Millisecond)
}
