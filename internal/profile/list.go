package profile

import "strings"

// List fields are persisted as one delimited text column. joinList replaces
// the delimiter in user-entered values before persisting.
const listSep = "\x1f"

func joinList(values []string) string {
	var kept []string
	for _, v := range values {
		v = strings.TrimSpace(strings.ReplaceAll(v, listSep, " "))
		if v != "" {
			kept = append(kept, v)
		}
	}
	return strings.Join(kept, listSep)
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	return strings.Split(raw, listSep)
}
