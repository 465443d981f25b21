package sqlgen

import (
	"fmt"
	"strings"
)

// Dialect selects the SQL flavour a Compiler emits.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// ParseDialect maps a configured driver name onto a Dialect.
func ParseDialect(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	default:
		return "", fmt.Errorf("unsupported sql dialect %q", name)
	}
}

// placeholder renders the bind marker for the 1-based argument index.
// SQLite uses numbered markers so arguments may be bound out of textual order.
func (d Dialect) placeholder(idx int) string {
	if d == SQLite {
		return fmt.Sprintf("?%d", idx)
	}
	return fmt.Sprintf("$%d", idx)
}

func (d Dialect) contains(expr, needle string) string {
	if d == SQLite {
		return fmt.Sprintf("instr(%s, %s) > 0", expr, needle)
	}
	return fmt.Sprintf("strpos(%s, %s) > 0", expr, needle)
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func column(alias, name string) string {
	return alias + "." + quoteIdent(name)
}
