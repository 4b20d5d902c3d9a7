package amber

import "fmt"

const secondsPerDay = 24 * 60 * 60

// FormatTimeOfDay renders a count of seconds since midnight as HH:MM:SS.
// 86400 is accepted and renders as 24:00:00.
func FormatTimeOfDay(seconds int) (string, error) {
	if seconds < 0 || seconds > secondsPerDay {
		return "", fmt.Errorf("time of day out of range: %d seconds", seconds)
	}
	return fmt.Sprintf("%02d:%02d:%02d", seconds/3600, seconds/60%60, seconds%60), nil
}

// normalizeTimeOfDay converts a decoded front-matter value for a time
// field. YAML reads an unquoted 16:17:18 as a base-60 integer in some
// dialects, so integers are taken as seconds since midnight.
func normalizeTimeOfDay(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case int:
		return FormatTimeOfDay(t)
	case int64:
		return FormatTimeOfDay(int(t))
	case uint64:
		if t > secondsPerDay {
			return "", fmt.Errorf("time of day out of range: %d seconds", t)
		}
		return FormatTimeOfDay(int(t))
	}
	return "", fmt.Errorf("invalid time of day: %v", v)
}
