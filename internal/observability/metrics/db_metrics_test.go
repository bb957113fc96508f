package metrics

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCountValue(t *testing.T) {
	ok := func(context.Context) (int64, error) { return 7, nil }
	require.Equal(t, float64(7), countValue(ok, zap.NewNop()))

	failing := func(context.Context) (int64, error) { return 0, errors.New("db down") }
	require.Zero(t, countValue(failing, nil))

	negative := func(context.Context) (int64, error) { return -1, nil }
	require.Zero(t, countValue(negative, zap.NewNop()))
}

func TestCountValueHasDeadline(t *testing.T) {
	var hasDeadline bool
	countValue(func(ctx context.Context) (int64, error) {
		_, hasDeadline = ctx.Deadline()
		return 0, nil
	}, nil)
	require.True(t, hasDeadline)
}
