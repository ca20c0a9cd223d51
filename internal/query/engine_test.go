package query

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vendora/internal/common/config"
	"vendora/internal/common/database"
	"vendora/internal/common/logger"
)

// ==========================
// Helpers
// ==========================

func testQueryConfig() config.QueryConfig {
	return config.QueryConfig{
		MaxRows:      1000,
		TimeoutMs:    2000,
		CacheTTLMs:   60000,
		CacheEnabled: false,
		ScopeParam:   "dealership_id",
	}
}

func redisCache(t *testing.T) (*database.RedisClient, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := database.NewRedis(config.RedisConfig{Address: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client, mr
}

const salesSQL = "SELECT sale_date, sale_price FROM sales WHERE dealership_id = $1 LIMIT 100"

// ==========================
// Execute
// ==========================

func TestExecuteReturnsRows(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(salesSQL).
		WithArgs("dealer_1").
		WillReturnRows(sqlmock.NewRows([]string{"sale_date", "sale_price"}).
			AddRow("2026-08-01", 31999.99).
			AddRow("2026-08-02", 27450.00))

	engine := NewEngine(db, nil, logger.NewTestLogger(t), testQueryConfig())

	result, err := engine.Execute(context.Background(), Query{
		Source: "sales",
		SQL:    salesSQL,
		Args:   []interface{}{"dealer_1"},
	})

	require.NoError(t, err)
	assert.Equal(t, 2, result.RowCount)
	assert.False(t, result.Truncated)
	assert.Equal(t, "sales", result.Source)
	assert.Equal(t, []string{"sale_date", "sale_price"}, result.Columns)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteEnforcesRowCap(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"sale_price"})
	for i := 0; i < 10; i++ {
		rows.AddRow(1000 + i)
	}
	mock.ExpectQuery("SELECT sale_price FROM sales WHERE dealership_id = $1").
		WithArgs("dealer_1").
		WillReturnRows(rows)

	cfg := testQueryConfig()
	cfg.MaxRows = 5
	engine := NewEngine(db, nil, logger.NewTestLogger(t), cfg)

	result, err := engine.Execute(context.Background(), Query{
		Source: "sales",
		SQL:    "SELECT sale_price FROM sales WHERE dealership_id = $1",
		Args:   []interface{}{"dealer_1"},
	})

	require.NoError(t, err)
	assert.Equal(t, 5, result.RowCount)
	assert.True(t, result.Truncated)
}

func TestExecuteRejectsDangerousSQL(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	engine := NewEngine(db, nil, logger.NewTestLogger(t), testQueryConfig())

	_, err = engine.Execute(context.Background(), Query{
		Source: "sales",
		SQL:    "DROP TABLE sales",
	})

	assert.Error(t, err)
}

func TestExecuteUsesCache(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	// The database is hit exactly once; the second call is served from redis.
	mock.ExpectQuery(salesSQL).
		WithArgs("dealer_1").
		WillReturnRows(sqlmock.NewRows([]string{"sale_price"}).AddRow(19999.0))

	cache, _ := redisCache(t)
	cfg := testQueryConfig()
	cfg.CacheEnabled = true
	engine := NewEngine(db, cache, logger.NewTestLogger(t), cfg)

	q := Query{Source: "sales", SQL: salesSQL, Args: []interface{}{"dealer_1"}}

	first, err := engine.Execute(context.Background(), q)
	require.NoError(t, err)
	assert.False(t, first.FromCache)

	second, err := engine.Execute(context.Background(), q)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.RowCount, second.RowCount)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteTimeout(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(salesSQL).
		WithArgs("dealer_1").
		WillDelayFor(200 * time.Millisecond).
		WillReturnRows(sqlmock.NewRows([]string{"sale_price"}).AddRow(1.0))

	cfg := testQueryConfig()
	cfg.TimeoutMs = 20
	engine := NewEngine(db, nil, logger.NewTestLogger(t), cfg)

	_, err = engine.Execute(context.Background(), Query{
		Source: "sales",
		SQL:    salesSQL,
		Args:   []interface{}{"dealer_1"},
	})

	assert.Error(t, err)
}
