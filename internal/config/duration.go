package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration decodes from "90s" style strings or from a number of seconds.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case float64:
		*d = Duration(time.Duration(v * float64(time.Second)))
		return nil
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("duration %q: %w", v, err)
		}
		*d = Duration(parsed)
		return nil
	default:
		return fmt.Errorf("duration: unsupported value %s", string(data))
	}
}

// DurationPtr is a helper for building updates.
func DurationPtr(d time.Duration) *Duration {
	v := Duration(d)
	return &v
}
