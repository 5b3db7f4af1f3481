//go:build cgo && (linux || darwin)

package remote

// go-libsql registers the "libsql" database/sql driver. It needs cgo, so
// builds without it only offer sqlite3 and postgres.
import _ "github.com/tursodatabase/go-libsql"
