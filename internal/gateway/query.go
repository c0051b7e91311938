package gateway

import (
	"database/sql"
	"encoding/binary"
	"fmt"

	"github.com/joeycumines/go-sqlited/internal/gatewayerr"
	"github.com/joeycumines/go-sqlited/internal/wire"
)

// maxRowsChunkBytes bounds a single ROWS response body (spec.md §4.6's
// "response message buffer"). spec.md does not fix an exact size; this
// module picks one generous enough that ordinary queries finish in a
// single chunk while still exercising the continuation path once a result
// set grows past it.
const maxRowsChunkBytes = 64 * 1024

// rowCursor is the in-progress state of a QUERY whose result didn't fit in
// one chunk: the open *sql.Rows plus scratch scan destinations, kept on the
// owning preparedStmt so a follow-up QUERY against the same statement id
// (spec.md §4.6's continuation request — there is no separate wire type
// for it; the request types table names only the seven in spec.md §6, so a
// continuation is simply QUERY addressed at a statement with a cursor
// already open) resumes instead of re-executing.
type rowCursor struct {
	rows *sql.Rows
	dest []any
}

// runQuery drives one chunk of a QUERY's result set: starting a new cursor
// against stmt if none is open, or resuming the one left by a previous
// partial chunk (spec.md §4.6 "Row streaming"). The returned bool reports
// whether the cursor is now exhausted; when it is not, runQuery itself sets
// EOM on this chunk's last row header (spec.md §4.6: "the worker
// yields a partial response ... with EOM on last body field set" when the
// buffer fills before the rows are exhausted — i.e. EOM marks an
// unfinished chunk, not a finished one).
func runQuery(stmt *preparedStmt, params []param) (body []byte, exhausted bool, err error) {
	cur := stmt.cursor
	if cur == nil {
		rows, err := stmt.stmt.Query(paramValues(params)...)
		if err != nil {
			return nil, false, wrapDBError(err)
		}
		cols, err := rows.Columns()
		if err != nil {
			rows.Close()
			return nil, false, wrapDBError(err)
		}
		dest := make([]any, len(cols))
		for i := range dest {
			dest[i] = new(any)
		}
		cur = &rowCursor{rows: rows, dest: dest}
		stmt.cursor = cur
	}

	var out wire.Writer
	lastHeaderOffset := -1
	for len(out.Bytes()) < maxRowsChunkBytes {
		if !cur.rows.Next() {
			exhausted = true
			break
		}
		if err := cur.rows.Scan(cur.dest...); err != nil {
			cur.rows.Close()
			stmt.cursor = nil
			return nil, false, wrapDBError(err)
		}

		types := make([]wire.ColumnType, len(cur.dest))
		var rowBody wire.Writer
		for i, d := range cur.dest {
			switch v := (*d.(*any)).(type) {
			case nil:
				types[i] = wire.ColumnNull
			case int64:
				types[i] = wire.ColumnInteger
				rowBody.Int64(v)
			case float64:
				types[i] = wire.ColumnFloat
				rowBody.Float64(v)
			case []byte:
				types[i] = wire.ColumnBlob
				rowBody.String(string(v))
			case string:
				types[i] = wire.ColumnText
				rowBody.String(v)
			default:
				// modernc.org/sqlite only ever scans the above Go types into
				// `any`; this exists so an unexpected driver value degrades
				// to text instead of panicking.
				types[i] = wire.ColumnText
				rowBody.String(fmt.Sprint(v))
			}
		}

		var header wire.Writer
		header.Uint64(wire.EncodeRowHeader(types))

		lastHeaderOffset = len(out.Bytes())
		out.RawBytes(header.Bytes())
		out.RawBytes(rowBody.Bytes())
	}

	if err := cur.rows.Err(); err != nil {
		cur.rows.Close()
		stmt.cursor = nil
		return nil, false, wrapDBError(err)
	}

	body = out.Bytes()

	if exhausted {
		cur.rows.Close()
		stmt.cursor = nil
	} else if lastHeaderOffset >= 0 {
		setEOM(body, lastHeaderOffset)
	}

	return body, exhausted, nil
}

// setEOM ORs wire.EOM into the row header at headerOffset, in place.
func setEOM(body []byte, headerOffset int) {
	h := binary.LittleEndian.Uint64(body[headerOffset : headerOffset+8])
	binary.LittleEndian.PutUint64(body[headerOffset:headerOffset+8], h|wire.EOM)
}

func wrapDBError(err error) error {
	return gatewayerr.DBErrorf(1, 0, err, "query failed")
}
