package protocol

import "strings"

// ExitSentinel is the prefix of the final line of a cleanly completed exec
// stream. The periphery agent prints the single-underscore form; both are
// accepted when parsing.
const (
	ExitSentinel       = "__KOMODO_EXIT_CODE__:"
	ExitSentinelLegacy = "__KOMODO_EXIT_CODE:"
)

// ParseExitSentinel reports whether line is an exit sentinel and returns
// the exit code text that follows the prefix.
func ParseExitSentinel(line string) (string, bool) {
	line = strings.TrimRight(line, "\r")
	for _, prefix := range []string{ExitSentinel, ExitSentinelLegacy} {
		if code, ok := strings.CutPrefix(line, prefix); ok {
			return strings.TrimSpace(code), true
		}
	}
	return "", false
}
