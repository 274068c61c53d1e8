package postgres

import (
	"fmt"

	"github.com/alanyoungcy/gaptrader/internal/domain"
)

// listQuery appends the ListOpts time window, ordering and pagination to
// base. base may already hold args; numbering continues after them.
func listQuery(base string, args []any, timeCol, order string, opts domain.ListOpts) (string, []any) {
	query := base
	argIdx := len(args) + 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND %s >= $%d", timeCol, argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND %s <= $%d", timeCol, argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += fmt.Sprintf(" ORDER BY %s %s", timeCol, order)

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}
	return query, args
}
