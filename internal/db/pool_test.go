package db

import (
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pashagolub/pgxmock/v4"
)

func TestPoolImplementations(t *testing.T) {
	var _ Pool = (*pgxpool.Pool)(nil)
	var _ Pool = pgxmock.PgxPoolIface(nil)
}
