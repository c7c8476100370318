package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// Key derives a stable cache key from a query type and its parameters.
// Parameters are sorted by name before hashing so two equivalent queries
// built in different orders share an entry. Connection handles and other
// non-parameter state must not be passed in.
func Key(queryType string, params map[string]string) string {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(queryType)
	for _, name := range names {
		b.WriteByte(0)
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(params[name])
	}

	sum := sha256.Sum256([]byte(b.String()))
	return queryType + ":" + hex.EncodeToString(sum[:8])
}
