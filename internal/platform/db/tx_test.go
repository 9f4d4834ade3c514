package db

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

func TestWithTxPropagatesBeginError(t *testing.T) {
	// pgxpool connects lazily, so constructing against a dead address succeeds
	// and the failure surfaces at BeginTx.
	pool, err := pgxpool.New(context.Background(), "postgres://nobody@127.0.0.1:1/nowhere?connect_timeout=1")
	require.NoError(t, err)
	defer pool.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ran := false
	err = WithTx(ctx, pool, func(pgx.Tx) error {
		ran = true
		return nil
	})
	require.Error(t, err)
	require.False(t, ran)
}
