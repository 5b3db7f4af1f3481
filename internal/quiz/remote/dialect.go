package remote

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// dialect covers the SQL differences between the supported backends.
// sqlite3 and libsql share one dialect; postgres needs numbered placeholders
// and jsonb operators.
type dialect struct {
	name     string
	postgres bool
}

func dialectFor(driver string) (dialect, error) {
	switch driver {
	case "sqlite3", "libsql":
		return dialect{name: driver}, nil
	case "postgres":
		return dialect{name: driver, postgres: true}, nil
	default:
		return dialect{}, fmt.Errorf("unsupported remote driver %q (want sqlite3, libsql or postgres)", driver)
	}
}

// rebind rewrites ? placeholders to $1, $2, ... for postgres.
func (d dialect) rebind(query string) string {
	if !d.postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$")
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

var fieldName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// fieldExpr returns the SQL expression extracting a top-level JSON field.
// The name is validated because it is spliced into the query text.
func (d dialect) fieldExpr(field string) (string, error) {
	if !fieldName.MatchString(field) {
		return "", fmt.Errorf("invalid field name %q", field)
	}
	if d.postgres {
		return "(fields::jsonb -> '" + field + "')", nil
	}
	return "json_extract(fields, '$." + field + "')", nil
}

// filterArg converts a filter value to the argument the dialect compares
// against fieldExpr.
func (d dialect) filterArg(v any) (any, string, error) {
	if d.postgres {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, "", fmt.Errorf("failed to encode filter value: %w", err)
		}
		return string(raw), "?::jsonb", nil
	}
	return v, "?", nil
}

const documentsDDL = `
CREATE TABLE IF NOT EXISTS documents (
	collection TEXT NOT NULL,
	id TEXT NOT NULL,
	fields TEXT NOT NULL,
	version BIGINT NOT NULL DEFAULT 1,
	updated_at BIGINT NOT NULL,
	PRIMARY KEY (collection, id)
)`
