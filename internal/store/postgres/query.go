package postgres

import (
	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/triarb/internal/domain"
)

// listArgs binds opts to the @since, @until, @limit and @offset parameters
// shared by the list queries. Unset filters bind NULL; LIMIT NULL is no
// limit.
func listArgs(opts domain.ListOpts) pgx.NamedArgs {
	args := pgx.NamedArgs{
		"since":  opts.Since,
		"until":  opts.Until,
		"limit":  nil,
		"offset": max(opts.Offset, 0),
	}
	if opts.Limit > 0 {
		args["limit"] = opts.Limit
	}
	return args
}
