package database

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/hearings-ai/config"
)

func TestEnsureSchemaRejectsInvalidDimension(t *testing.T) {
	err := EnsureSchema(context.Background(), nil, 0)
	assert.Error(t, err)
}

func TestNewRedisClientWithoutAddress(t *testing.T) {
	cli, err := NewRedisClient(context.Background(), config.RedisConfig{})
	require.NoError(t, err)
	assert.Nil(t, cli)
}

func TestNewPostgresPoolRejectsBadDSN(t *testing.T) {
	_, err := NewPostgresPool(context.Background(), "postgres://%zz")
	assert.Error(t, err)
}

func TestDatabaseConnectivity(t *testing.T) {
	if os.Getenv("RUN_DB_INTEGRATION_TESTS") != "1" {
		t.Skip("set RUN_DB_INTEGRATION_TESTS=1 to run database connectivity checks")
	}

	cfg, err := config.Load()
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := NewPostgresPool(ctx, cfg.PostgresDSN)
	require.NoError(t, err)
	defer pool.Close()
	require.NoError(t, pool.Ping(ctx))
	require.NoError(t, EnsureSchema(ctx, pool, cfg.Embeddings.Dimension))

	driver, err := NewNeo4jDriver(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPass)
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, driver.Close(ctx))
	}()

	session := driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer func() {
		assert.NoError(t, session.Close(ctx))
	}()
	result, err := session.Run(ctx, "RETURN 1 AS ok", nil)
	require.NoError(t, err)
	require.True(t, result.Next(ctx), "neo4j returned no rows: %v", result.Err())
	ok, found := result.Record().Get("ok")
	require.True(t, found)
	assert.EqualValues(t, 1, ok)

	if cfg.Redis.Addr != "" {
		rdb, err := NewRedisClient(ctx, cfg.Redis)
		require.NoError(t, err)
		assert.NoError(t, rdb.Close())
	}
}
