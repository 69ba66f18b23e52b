// Package logging provides the storage node's structured logging layer:
// a thin wrapper over log/slog with the extra severities FastDFS's own
// logging distinguishes (NOTICE between INFO and WARNING; CRITICAL, ALERT
// and EMERGENCY above ERROR, used by the Fatal error-handling path in
// spec.md §7 when the node has to drain and exit).
package logging

import "log/slog"

// Custom levels, spaced so they interleave correctly with the stdlib
// slog levels (Debug=-4, Info=0, Warn=4, Error=8).
const (
	SlogLevelNotice    = slog.Level(2)
	SlogLevelCritical  = slog.Level(12)
	SlogLevelAlert     = slog.Level(16)
	SlogLevelEmergency = slog.Level(20)
)

// slogLevelToString renders lvl the way FastDFS's own log lines do:
// fixed-width, upper-case severity names. Unknown levels fall back to
// slog's default String().
func slogLevelToString(lvl slog.Level) string {
	switch lvl {
	case slog.LevelDebug:
		return "DEBUG"
	case slog.LevelInfo:
		return "INFO"
	case SlogLevelNotice:
		return "NOTICE"
	case slog.LevelWarn:
		return "WARNING"
	case slog.LevelError:
		return "ERROR"
	case SlogLevelCritical:
		return "CRITICAL"
	case SlogLevelAlert:
		return "ALERT"
	case SlogLevelEmergency:
		return "EMERGENCY"
	default:
		return lvl.String()
	}
}

// mapLogLevelNames lower-cases the slog.LevelKey attribute's rendered
// value for JSON output (slog's default is upper-case); every other
// attribute passes through unchanged.
func mapLogLevelNames(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey {
		return a
	}
	if lvl, ok := a.Value.Any().(slog.Level); ok {
		a.Value = slog.StringValue(levelJSONName(lvl))
	}
	return a
}

func levelJSONName(lvl slog.Level) string {
	switch lvl {
	case SlogLevelNotice:
		return "notice"
	case SlogLevelCritical:
		return "critical"
	case SlogLevelAlert:
		return "alert"
	case SlogLevelEmergency:
		return "emergency"
	default:
		return lvlLower(lvl)
	}
}

func lvlLower(lvl slog.Level) string {
	s := lvl.String()
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}
