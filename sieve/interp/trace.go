package interp

import (
	"fmt"
	"io"
	"strings"
)

// TraceLevel selects how much a run reports.
type TraceLevel int

const (
	TraceNone TraceLevel = iota
	TraceActions
	TraceCommands
	TraceTests
	TraceMatching
)

var traceLevelNames = map[string]TraceLevel{
	"none":     TraceNone,
	"actions":  TraceActions,
	"commands": TraceCommands,
	"tests":    TraceTests,
	"matching": TraceMatching,
}

// ParseTraceLevel parses a level name such as "commands".
func ParseTraceLevel(s string) (TraceLevel, error) {
	if s == "" {
		return TraceNone, nil
	}
	level, ok := traceLevelNames[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return TraceNone, fmt.Errorf("unknown trace level %q", s)
	}
	return level, nil
}

func (l TraceLevel) String() string {
	for name, level := range traceLevelNames {
		if level == l {
			return name
		}
	}
	return fmt.Sprintf("level(%d)", int(l))
}

type tracer struct {
	w      io.Writer
	level  TraceLevel
	indent int
}

func (t *tracer) enabled(level TraceLevel) bool {
	return t != nil && t.w != nil && level != TraceNone && level <= t.level
}

func (t *tracer) printf(level TraceLevel, line int, format string, args ...any) {
	if !t.enabled(level) {
		return
	}
	prefix := "      "
	if line > 0 {
		prefix = fmt.Sprintf("%4d: ", line)
	}
	fmt.Fprintf(t.w, "%s%s%s\n", prefix, strings.Repeat("  ", t.indent), fmt.Sprintf(format, args...))
}
