package postgres

import (
	"fmt"

	"github.com/alanyoungcy/smartmonitor/internal/domain"
)

const defaultListLimit = 100

// listQuery appends the symbol and since filters, newest-first ordering and
// paging to a SELECT that already ends in a WHERE clause.
func listQuery(base, timeCol string, opts domain.ListOpts) (string, []any) {
	query := base
	var args []any
	argIdx := 1

	if opts.Symbol != "" {
		query += fmt.Sprintf(" AND symbol = $%d", argIdx)
		args = append(args, opts.Symbol)
		argIdx++
	}
	if opts.Since != nil {
		query += fmt.Sprintf(" AND %s >= $%d", timeCol, argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}

	query += fmt.Sprintf(" ORDER BY %s DESC", timeCol)

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)
	argIdx++

	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}
	return query, args
}
