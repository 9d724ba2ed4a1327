// Package rowmap decodes a wire.Row (ordered nullable text cells plus
// column descriptors) into a user-supplied Go struct, either by matching
// normalised field/column names or positionally. Go's own reflect
// package discharges the spec's "supplied reflection capability" for
// count_members/member_names/tie-to-references — no third-party
// struct-mapping library appears anywhere in the retrieved example
// pack, so this is the one component legitimately built on the
// standard library alone (see DESIGN.md).
package rowmap

// Normalize lowercases ASCII letters/digits, keeps underscores, collapses
// consecutive underscores, and drops everything else. It is idempotent:
// Normalize(Normalize(s)) == Normalize(s).
func Normalize(s string) string {
	buf := make([]byte, 0, len(s))
	lastUnderscore := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			buf = append(buf, c)
			lastUnderscore = false
		case c >= 'A' && c <= 'Z':
			buf = append(buf, c+('a'-'A'))
			lastUnderscore = false
		case c == '_':
			if !lastUnderscore {
				buf = append(buf, '_')
				lastUnderscore = true
			}
		default:
			// dropped
		}
	}
	return string(buf)
}
