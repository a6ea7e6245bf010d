package svcfields

import (
	"strings"

	"pkt.systems/pslog"
)

// SubsystemKey is the log key naming the component that emitted an entry.
const SubsystemKey = pslog.TrustedString("sys")

// Subsystem joins parts into a dotted path ("cli", "query" -> "cli.query").
// Empty parts and stray dots are dropped.
func Subsystem(parts ...string) string {
	var b strings.Builder
	for _, part := range parts {
		part = strings.Trim(part, ". ")
		if part == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(part)
	}
	return b.String()
}

// WithSubsystem tags every entry of logger with the subsystem built from
// parts. A logger should be tagged once; derive siblings from the untagged
// parent rather than stacking tags.
func WithSubsystem(logger pslog.Logger, parts ...string) pslog.Logger {
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	sys := Subsystem(parts...)
	if sys == "" {
		return logger
	}
	return logger.With(SubsystemKey, sys)
}

// Host returns the fields identifying a pool member, for appending to a
// key/value list.
func Host(idx int, endpoint string) []any {
	return []any{"host", idx, "endpoint", endpoint}
}
