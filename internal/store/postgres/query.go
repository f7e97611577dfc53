package postgres

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/alanyoungcy/chainbet/internal/domain"
)

// query accumulates a WHERE clause and its positional args.
type query struct {
	sb   strings.Builder
	args []any
}

func newQuery(base string, args ...any) *query {
	q := &query{args: args}
	q.sb.WriteString(base)
	return q
}

// arg appends v and returns its placeholder.
func (q *query) arg(v any) string {
	q.args = append(q.args, v)
	return "$" + strconv.Itoa(len(q.args))
}

func (q *query) where(cond string, v any) {
	q.sb.WriteString(" AND ")
	q.sb.WriteString(fmt.Sprintf(cond, q.arg(v)))
}

// page applies the time window on col plus ordering and pagination.
func (q *query) page(opts domain.ListOpts, col, order string) {
	if opts.Since != nil {
		q.where(col+" >= %s", *opts.Since)
	}
	if opts.Until != nil {
		q.where(col+" <= %s", *opts.Until)
	}
	q.sb.WriteString(" ORDER BY " + order)
	if opts.Limit > 0 {
		q.sb.WriteString(" LIMIT " + q.arg(opts.Limit))
	}
	if opts.Offset > 0 {
		q.sb.WriteString(" OFFSET " + q.arg(opts.Offset))
	}
}

func (q *query) String() string { return q.sb.String() }

// numeric wraps a token amount for a NUMERIC(78,0) column.
func numeric(v *big.Int) pgtype.Numeric {
	if v == nil {
		v = new(big.Int)
	}
	return pgtype.Numeric{Int: v, Exp: 0, Valid: true}
}

// parseNumeric reads a NUMERIC column selected as ::text.
func parseNumeric(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("postgres: invalid numeric %q", s)
	}
	return v, nil
}
