// Package strings holds small string helpers shared by config and handlers.
package strings

import (
	"strings"
)

// SplitList flattens comma-separated values into one list, trimming
// whitespace and dropping empty and repeated entries. Order is preserved.
//
//	SplitList("a, b", "b,,c") // []string{"a", "b", "c"}
func SplitList(values ...string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			p := strings.TrimSpace(part)
			if p == "" {
				continue
			}
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}
