package alarms

import (
	"sort"
	"strings"
)

// SeverityMap maps an effective level ("0".."4") to an alerting severity.
type SeverityMap map[string]string

// DefaultSeverityMap mirrors the upstream level meanings.
func DefaultSeverityMap() SeverityMap {
	return SeverityMap{
		"0": "warning",
		"1": "critical",
		"2": "error",
		"3": "warning",
		"4": "info",
	}
}

// Severity maps level; unknown levels use the mapping of DefaultLevel.
func (m SeverityMap) Severity(level string) string {
	if s, ok := m[level]; ok && s != "" {
		return s
	}
	if s, ok := m[DefaultLevel]; ok && s != "" {
		return s
	}
	return "warning"
}

// Filter selects alarms by effective level and mapped severity. Both must pass.
type Filter struct {
	Levels     []string
	Severities []string
	Severity   SeverityMap
}

// Match reports whether a passes the filter.
func (f Filter) Match(a Alarm) bool {
	level := a.EffectiveLevel()
	if len(f.Levels) > 0 && !containsFold(f.Levels, level) {
		return false
	}
	if len(f.Severities) > 0 && !containsFold(f.Severities, f.Severity.Severity(level)) {
		return false
	}
	return true
}

// Reachable returns the severities that can pass both filters. An empty result
// with both filters set means nothing will ever be synced.
func (f Filter) Reachable() []string {
	levels := f.Levels
	if len(levels) == 0 {
		levels = make([]string, 0, len(f.Severity))
		for level := range f.Severity {
			levels = append(levels, level)
		}
	}
	seen := make(map[string]struct{})
	var out []string
	for _, level := range levels {
		sev := f.Severity.Severity(level)
		if len(f.Severities) > 0 && !containsFold(f.Severities, sev) {
			continue
		}
		if _, ok := seen[sev]; ok {
			continue
		}
		seen[sev] = struct{}{}
		out = append(out, sev)
	}
	sort.Strings(out)
	return out
}

func containsFold(values []string, v string) bool {
	for _, candidate := range values {
		if strings.EqualFold(strings.TrimSpace(candidate), v) {
			return true
		}
	}
	return false
}
