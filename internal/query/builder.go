// internal/query/builder.go
package query

import (
	"fmt"
	"strings"

	stderrors "vendora/internal/common/errors"
	"vendora/pkg/registry"
)

// Query is a validated, parameter-bound statement ready for execution.
type Query struct {
	Source string
	SQL    string
	Args   []interface{}
}

// BuildOptions tune the generated statement.
type BuildOptions struct {
	// DaysBack restricts rows to the last N days on the source's time
	// column. Zero means no time filter.
	DaysBack int
	// Limit caps returned rows; the builder clamps it to maxRows.
	Limit int
}

// Builder constructs tenant-scoped SELECT statements against registered
// data sources only. Every statement it emits passes ValidateSQL.
type Builder struct {
	registry *registry.SourceRegistry
	maxRows  int
}

func NewBuilder(reg *registry.SourceRegistry, maxRows int) *Builder {
	if maxRows <= 0 {
		maxRows = 1000
	}
	return &Builder{registry: reg, maxRows: maxRows}
}

// Build creates the query for one data source. The dealership id is always
// bound as $1; it is never interpolated into the statement text.
func (b *Builder) Build(sourceName, dealershipID string, opts BuildOptions) (Query, error) {
	src, ok := b.registry.Lookup(sourceName)
	if !ok {
		return Query{}, stderrors.NewUnknownDataSourceError(sourceName)
	}

	limit := opts.Limit
	if limit <= 0 || limit > b.maxRows {
		limit = b.maxRows
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(strings.Join(src.Columns, ", "))
	sb.WriteString(" FROM ")
	sb.WriteString(src.Table)
	sb.WriteString(" WHERE ")
	sb.WriteString(DefaultScopeParam)
	sb.WriteString(" = $1")

	if opts.DaysBack > 0 && src.TimeColumn != "" {
		// DaysBack is an int under our control, not user text.
		fmt.Fprintf(&sb, " AND %s >= NOW() - INTERVAL '%d days'", src.TimeColumn, opts.DaysBack)
	}

	if src.TimeColumn != "" {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(src.TimeColumn)
		sb.WriteString(" DESC")
	}

	fmt.Fprintf(&sb, " LIMIT %d", limit)

	sqlText, err := ValidateSQL(sb.String())
	if err != nil {
		return Query{}, err
	}

	return Query{
		Source: sourceName,
		SQL:    sqlText,
		Args:   []interface{}{dealershipID},
	}, nil
}
