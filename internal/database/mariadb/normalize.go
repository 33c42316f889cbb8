package mariadb

import (
	"strings"

	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// canonicalName cleans up a runner name as registered: Unicode is normalized
// to NFC so composed and decomposed forms ("Jiří" typed two ways) store as
// the same bytes, and whitespace is trimmed and collapsed. The registration
// system accepts free-form input and is full of both.
func canonicalName(name string) string {
	normalized, _, err := transform.String(norm.NFC, name)
	if err != nil {
		normalized = name
	}
	return strings.Join(strings.Fields(normalized), " ")
}
