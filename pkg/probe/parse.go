package probe

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	totalPlayersPattern  = regexp.MustCompile(`Total players online:\s*(\d+)`)
	serverSectionPattern = regexp.MustCompile(`\[(\S+)\]\s*\((\d+)\):\s*(.*)`)
)

// parseGlist parses BungeeCord/Waterfall/Velocity's "glist" text response
// into a total player count and a per-backend name list. Backends with no
// players online produce an empty (not missing) list, and any line that
// doesn't match the expected shape is ignored rather than failing the
// whole parse, since glist's exact wording has drifted across proxy
// versions.
func parseGlist(output string) (int, map[string][]string) {
	total := 0
	if m := totalPlayersPattern.FindStringSubmatch(output); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			total = n
		}
	}

	perBackend := make(map[string][]string)
	for _, line := range strings.Split(output, "\n") {
		m := serverSectionPattern.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		name := m[1]
		names := []string{}
		for _, p := range strings.Split(m[3], ",") {
			p = strings.TrimSpace(p)
			if p != "" {
				names = append(names, p)
			}
		}
		perBackend[name] = names
	}
	return total, perBackend
}
