package supervisor

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	tpsLinePattern    = regexp.MustCompile(`TPS from last \d+m(?:, \d+m)*: ([\d.,]+)`)
	tpsFirstNumber    = regexp.MustCompile(`[0-9]+\.[0-9]+`)
	joinedLinePattern = regexp.MustCompile(`(\w+) joined the game`)
	leftLinePattern   = regexp.MustCompile(`(\w+) left the game`)
)

// parseTPS extracts the first reported TPS value from a line of the form
// "TPS from last 1m, 5m, 15m: 20.0, 20.0, 20.0".
func parseTPS(line string) (float64, bool) {
	m := tpsLinePattern.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	normalized := strings.ReplaceAll(m[1], ",", ".")
	num := tpsFirstNumber.FindString(normalized)
	if num == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func matchJoined(line string) (string, bool) {
	m := joinedLinePattern.FindStringSubmatch(line)
	if m == nil {
		return "", false
	}
	return m[1], true
}

func matchLeft(line string) (string, bool) {
	m := leftLinePattern.FindStringSubmatch(line)
	if m == nil {
		return "", false
	}
	return m[1], true
}
