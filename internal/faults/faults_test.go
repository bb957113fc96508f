package faults

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	base := errors.New("boom")

	require.Equal(t, KindTransient, KindOf(Transient("push", base)))
	require.Equal(t, KindFatal, KindOf(Fatal("push", base)))
	require.Equal(t, KindIntegrity, KindOf(Integrity("scan", base)))
	require.Equal(t, KindTransient, KindOf(base))
	require.Equal(t, Kind(""), KindOf(nil))
}

func TestWrappedErrorsKeepKind(t *testing.T) {
	base := errors.New("bad request")
	err := fmt.Errorf("dispatch: %w", Fatal("push alerts", base))

	require.True(t, IsFatal(err))
	require.False(t, IsTransient(err))
	require.ErrorIs(t, err, base)
	require.Contains(t, err.Error(), "push alerts")
}

func TestNilErrorStaysNil(t *testing.T) {
	require.NoError(t, Transient("op", nil))
	require.False(t, IsTransient(nil))
}
