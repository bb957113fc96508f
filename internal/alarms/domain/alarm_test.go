package alarms

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func TestParseSourceState(t *testing.T) {
	for _, raw := range []string{"U", "a", " M ", "C"} {
		_, err := ParseSourceState(raw)
		require.NoError(t, err, raw)
	}
	_, err := ParseSourceState("X")
	require.ErrorIs(t, err, ErrUnknownState)
}

func TestEffectiveLevel(t *testing.T) {
	require.Equal(t, "1", Alarm{Instance: Instance{Level: intPtr(1)}, Meta: Metadata{DefaultLevel: intPtr(4)}}.EffectiveLevel())
	require.Equal(t, "4", Alarm{Meta: Metadata{DefaultLevel: intPtr(4)}}.EffectiveLevel())
	require.Equal(t, DefaultLevel, Alarm{}.EffectiveLevel())
}

func TestResolvedAt(t *testing.T) {
	reset := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	cleared := reset.Add(time.Minute)
	confirmed := reset.Add(2 * time.Minute)

	a := Alarm{Instance: Instance{State: StateAutoRecovered, ResetAt: &reset, ClearedAt: &cleared}}
	require.Equal(t, reset, *a.ResolvedAt())

	a.Instance.State = StateManuallyCleared
	require.Equal(t, cleared, *a.ResolvedAt())

	a.Instance.State = StateConfirmed
	a.Instance.ClearedAt = nil
	a.Instance.ConfirmedAt = &confirmed
	require.Equal(t, confirmed, *a.ResolvedAt())

	a.Instance.State = StateUnconfirmed
	require.Nil(t, a.ResolvedAt())
}

func TestSeverityMapFallsBackToLevelThree(t *testing.T) {
	m := DefaultSeverityMap()
	require.Equal(t, "critical", m.Severity("1"))
	require.Equal(t, "info", m.Severity("4"))
	require.Equal(t, "warning", m.Severity("9"))
}

func TestFilterCombinesLevelAndSeverity(t *testing.T) {
	f := Filter{Levels: []string{"1", "2"}, Severities: []string{"critical"}, Severity: DefaultSeverityMap()}

	require.True(t, f.Match(Alarm{Instance: Instance{Level: intPtr(1)}}))
	require.False(t, f.Match(Alarm{Instance: Instance{Level: intPtr(2)}}))
	require.False(t, f.Match(Alarm{Instance: Instance{Level: intPtr(4)}}))

	require.Equal(t, []string{"critical"}, f.Reachable())

	empty := Filter{Levels: []string{"4"}, Severities: []string{"critical"}, Severity: DefaultSeverityMap()}
	require.Empty(t, empty.Reachable())
}
