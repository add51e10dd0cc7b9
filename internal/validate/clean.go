package validate

import "strings"

// CleanEmpty drops nil values and empty strings so a partial update only
// carries the fields the user actually filled in.
func CleanEmpty(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		switch t := v.(type) {
		case nil:
			continue
		case string:
			if strings.TrimSpace(t) == "" {
				continue
			}
		case *string:
			if t == nil || strings.TrimSpace(*t) == "" {
				continue
			}
			v = *t
		}
		out[k] = v
	}
	return out
}
