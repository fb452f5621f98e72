package twitch

import "strings"

// NormalizeNames trims, lowercases and dedupes login names, dropping blanks.
// First-occurrence order is kept.
func NormalizeNames(names []string) []string {
	out := make([]string, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// SplitNames parses a comma separated list ("alice, bob,,carol").
func SplitNames(raw string) []string {
	return NormalizeNames(strings.Split(raw, ","))
}
