package gateway

import (
	"database/sql"

	"github.com/joeycumines/go-sqlited/internal/db"
)

// preparedStmt is a PREPARE result: a compiled statement plus the database
// it belongs to (spec.md §3 "Prepared statement"). EXEC and QUERY address
// the pool by the owning database's id, never the statement's.
type preparedStmt struct {
	dbID uint64
	db   *db.Handle
	stmt *sql.Stmt

	// cursor is non-nil between a QUERY chunk that filled the response
	// buffer before exhausting its rows and the continuation QUERY that
	// resumes it (spec.md §4.6 "Row streaming"). nil whenever no query
	// against this statement is mid-stream.
	cursor *rowCursor
}
