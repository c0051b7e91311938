package gateway

import (
	"fmt"

	"github.com/joeycumines/go-sqlited/internal/wire"
)

// param is one bound parameter value for EXEC/QUERY, tagged with the same
// column-type nibble scheme the row header uses (spec.md §6).
type param struct {
	typ wire.ColumnType
	i   int64
	f   float64
	s   string
	b   []byte
}

func (p param) value() any {
	switch p.typ {
	case wire.ColumnInteger:
		return p.i
	case wire.ColumnFloat:
		return p.f
	case wire.ColumnText:
		return p.s
	case wire.ColumnBlob:
		return p.b
	default:
		return nil
	}
}

// decodeParams reads a count-prefixed list of tagged parameter values, the
// convention this module uses for EXEC/QUERY's "params" input (spec.md §4.6
// leaves the exact encoding of params to the implementation; this mirrors
// the row header's own 4-bit column-type tagging for consistency with the
// rest of the wire format).
func decodeParams(r *wire.Reader) ([]param, error) {
	n, err := r.Uint64()
	if err != nil {
		return nil, err
	}
	params := make([]param, 0, n)
	for i := uint64(0); i < n; i++ {
		tag, err := r.Uint64()
		if err != nil {
			return nil, err
		}
		p := param{typ: wire.ColumnType(tag)}
		switch p.typ {
		case wire.ColumnInteger:
			if p.i, err = r.Int64(); err != nil {
				return nil, err
			}
		case wire.ColumnFloat:
			if p.f, err = r.Float64(); err != nil {
				return nil, err
			}
		case wire.ColumnText:
			if p.s, err = r.String(); err != nil {
				return nil, err
			}
		case wire.ColumnBlob:
			s, err := r.String()
			if err != nil {
				return nil, err
			}
			p.b = []byte(s)
		case wire.ColumnNull:
		default:
			return nil, fmt.Errorf("gateway: unknown param type tag %d", tag)
		}
		params = append(params, p)
	}
	return params, nil
}

func paramValues(params []param) []any {
	values := make([]any, len(params))
	for i, p := range params {
		values[i] = p.value()
	}
	return values
}
