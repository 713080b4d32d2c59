// Package tablename derives DynamoDB table names for databases and containers.
package tablename

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	maxLen    = 255
	minLen    = 3
	digestLen = 16
)

// Database returns the catalog table name for a database.
func Database(prefix, database string) string {
	return physical(prefix, database)
}

// Container returns the table name holding a container's documents.
// Container tables always have one more "." separated segment than their
// database's catalog table, so the two never collide.
func Container(prefix, database, container string) string {
	return physical(prefix, database, container)
}

// physical sanitizes each id segment and joins them with ".".
// Segments are restricted to [A-Za-z0-9_-]; when sanitizing changed an id,
// or the result is too short or too long, a digest of the original ids is
// appended so that distinct ids map to distinct tables.
func physical(prefix string, ids ...string) string {
	segments := make([]string, 0, len(ids)+1)
	if prefix != "" {
		segments = append(segments, prefix)
	}

	changed := false
	for _, id := range ids {
		clean := sanitize(id)
		if clean != id {
			changed = true
		}
		segments = append(segments, clean)
	}

	name := strings.Join(segments, ".")
	if changed || len(name) < minLen || len(name) > maxLen {
		suffix := Digest(ids...)
		if len(name) > maxLen-digestLen-1 {
			name = name[:maxLen-digestLen-1]
		}
		name = name + "-" + suffix
	}
	return name
}

// Digest returns a 64-bit hex digest of the given ids.
func Digest(ids ...string) string {
	h := sha256.Sum256([]byte(strings.Join(ids, "\x00")))
	return hex.EncodeToString(h[:digestLen/2])
}

func sanitize(id string) string {
	var b strings.Builder
	b.Grow(len(id))
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
