package postgres

import (
	"fmt"
	"strings"
)

// Table names are interpolated into query text because identifiers
// cannot be bound as placeholders, so configured names are restricted
// to word characters with an optional schema qualifier.
func sanitizeTableName(name string) (string, error) {
	if name == "" {
		return "", ErrTableNameRequired
	}
	for _, part := range strings.Split(name, ".") {
		if !validIdentifier(part) {
			return "", fmt.Errorf("%w: %s", ErrInvalidTableName, name)
		}
	}

	return name, nil
}

func validIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r == '_':
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		default:
			return false
		}
	}

	return true
}

// indexPrefix derives an identifier-safe prefix for index names from a
// possibly schema-qualified table name.
func indexPrefix(table string) string {
	return strings.ReplaceAll(table, ".", "_")
}
