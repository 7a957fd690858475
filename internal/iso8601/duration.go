// Package iso8601 parses the subset of ISO-8601 durations used by the
// carrier's inputVariables (for example a configured maximum call duration),
// plus a bare-number fallback for carriers that send plain seconds.
package iso8601

import (
	"fmt"
	"regexp"
	"strconv"
)

// durationPattern matches "P[nD]T[nH][nM][n[.n]S]". All components are
// optional except the leading "P" and "T"; at least one of D/H/M/S must be
// present for a match to be meaningful, but that is left to the caller since
// the regex alone permits an all-empty match.
var durationPattern = regexp.MustCompile(`^P(?:(\d+)D)?T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+(?:\.\d+)?)S)?$`)

// ParseDuration parses s as an ISO-8601 duration ("PT30S", "P1DT2H", ...) and
// returns the equivalent number of seconds. If s does not match the ISO-8601
// grammar, ParseDuration falls back to treating it as a bare decimal number
// of seconds (e.g. "2.5"). Returns an error if neither interpretation
// succeeds.
func ParseDuration(s string) (float64, error) {
	if m := durationPattern.FindStringSubmatch(s); m != nil {
		var total float64
		if m[1] != "" {
			days, _ := strconv.ParseFloat(m[1], 64)
			total += days * 86400
		}
		if m[2] != "" {
			hours, _ := strconv.ParseFloat(m[2], 64)
			total += hours * 3600
		}
		if m[3] != "" {
			minutes, _ := strconv.ParseFloat(m[3], 64)
			total += minutes * 60
		}
		if m[4] != "" {
			seconds, _ := strconv.ParseFloat(m[4], 64)
			total += seconds
		}
		return total, nil
	}

	if seconds, err := strconv.ParseFloat(s, 64); err == nil {
		return seconds, nil
	}

	return 0, fmt.Errorf("iso8601: %q is not a valid ISO-8601 duration or numeric seconds value", s)
}
