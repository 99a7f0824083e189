package database

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func TestOpenAppliesPoolAndPings(t *testing.T) {
	_, mock, err := sqlmock.NewWithDSN("sqlmock_pool_test", sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	mock.ExpectPing()

	db, err := open("sqlmock", "sqlmock_pool_test", PoolConfig{MaxOpenConns: 3, MaxIdleConns: 1, MaxLifetime: time.Minute})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.Equal(t, 3, db.Stats().MaxOpenConnections)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewRedisClientFromURL(t *testing.T) {
	srv := miniredis.RunT(t)

	client, err := NewRedisClientFromURL("redis://" + srv.Addr() + "/0")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
}

func TestNewRedisClientFromURLRejectsBadURL(t *testing.T) {
	_, err := NewRedisClientFromURL("not a url")
	require.Error(t, err)
}
