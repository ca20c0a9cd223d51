// internal/query/engine.go
package query

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"vendora/internal/common/config"
	stderrors "vendora/internal/common/errors"
	"vendora/internal/common/metrics"
	"vendora/internal/reliability"
)

// Result holds the rows returned for one data source.
type Result struct {
	Source    string                   `json:"source"`
	Columns   []string                 `json:"columns"`
	Rows      []map[string]interface{} `json:"rows"`
	RowCount  int                      `json:"row_count"`
	Truncated bool                     `json:"truncated"`
	FromCache bool                     `json:"from_cache"`
}

type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
}

// Cache is the subset of the redis client the engine uses.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
}

// Engine executes validated queries against the analytical store with a
// per-call timeout, row cap, circuit breaker and redis result cache.
type Engine struct {
	db      *sql.DB
	cache   Cache
	breaker *reliability.Breaker
	logger  Logger
	cfg     config.QueryConfig
}

func NewEngine(db *sql.DB, cache Cache, logger Logger, cfg config.QueryConfig) *Engine {
	return &Engine{
		db:      db,
		cache:   cache,
		breaker: reliability.NewBreaker("postgres", 5, 30*time.Second),
		logger:  logger,
		cfg:     cfg,
	}
}

// Execute runs one built query. The statement is re-validated as a final
// safety gate before touching the database.
func (e *Engine) Execute(ctx context.Context, q Query) (*Result, error) {
	sqlText, err := ValidateSQLScoped(q.SQL, e.cfg.ScopeParam)
	if err != nil {
		return nil, err
	}

	cacheKey := e.cacheKey(sqlText, q.Args)
	if e.cfg.CacheEnabled && e.cache != nil {
		if cached, err := e.cache.Get(ctx, cacheKey); err == nil {
			var result Result
			if err := json.Unmarshal([]byte(cached), &result); err == nil {
				result.FromCache = true
				return &result, nil
			}
		}
	}

	if err := e.breaker.Allow(); err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := e.run(ctx, q.Source, sqlText, q.Args)
	metrics.StageDuration.WithLabelValues("query").Observe(time.Since(start).Seconds())
	if err != nil {
		e.breaker.RecordFailure()
		if ctx.Err() != nil {
			return nil, stderrors.NewQueryTimeoutError(q.Source)
		}
		return nil, stderrors.NewQueryExecutionFailedError(q.Source, err)
	}
	e.breaker.RecordSuccess()

	if e.cfg.CacheEnabled && e.cache != nil {
		if payload, err := json.Marshal(result); err == nil {
			if err := e.cache.Set(ctx, cacheKey, string(payload), config.GetDuration(e.cfg.CacheTTLMs)); err != nil {
				e.logger.Warn("Failed to cache query result", map[string]interface{}{
					"source": q.Source,
					"error":  err.Error(),
				})
			}
		}
	}

	return result, nil
}

func (e *Engine) run(ctx context.Context, source, sqlText string, args []interface{}) (*Result, error) {
	queryCtx, cancel := context.WithTimeout(ctx, config.GetDuration(e.cfg.TimeoutMs))
	defer cancel()

	rows, err := e.db.QueryContext(queryCtx, sqlText, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	result := &Result{Source: source, Columns: columns, Rows: []map[string]interface{}{}}
	for rows.Next() {
		if result.RowCount >= e.cfg.MaxRows {
			result.Truncated = true
			break
		}

		values := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		row := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			row[col] = normalizeValue(values[i])
		}
		result.Rows = append(result.Rows, row)
		result.RowCount++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (e *Engine) cacheKey(sqlText string, args []interface{}) string {
	h := sha256.New()
	h.Write([]byte(sqlText))
	for _, arg := range args {
		fmt.Fprintf(h, "|%v", arg)
	}
	return "vendora:query:" + hex.EncodeToString(h.Sum(nil))[:32]
}

// normalizeValue makes driver values JSON-friendly.
func normalizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case []byte:
		return string(val)
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	default:
		return v
	}
}
