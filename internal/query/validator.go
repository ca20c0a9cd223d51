// Package query provides safe construction and execution of dealership
// analytics SQL.
package query

import (
	"regexp"
	"strings"
	"sync"

	stderrors "vendora/internal/common/errors"
)

// DefaultScopeParam is the tenant column every generated statement must
// bind to a placeholder.
const DefaultScopeParam = "dealership_id"

var (
	lineCommentPattern  = regexp.MustCompile(`--[^\n]*`)
	blockCommentPattern = regexp.MustCompile(`(?s)/\*.*?\*/`)

	scopePatternMu sync.Mutex
	scopePatterns  = map[string]*regexp.Regexp{}
)

func scopePattern(param string) *regexp.Regexp {
	scopePatternMu.Lock()
	defer scopePatternMu.Unlock()
	if p, ok := scopePatterns[param]; ok {
		return p
	}
	p := regexp.MustCompile(`(?i)` + regexp.QuoteMeta(param) + `\s*=\s*\$\d+`)
	scopePatterns[param] = p
	return p
}

// dangerousKeywords are statement types never allowed in generated SQL. The
// pipeline is read-only against the analytical store.
var dangerousKeywords = []string{
	"DROP", "DELETE", "TRUNCATE", "ALTER", "CREATE",
	"INSERT", "UPDATE", "EXEC", "EXECUTE", "GRANT", "REVOKE", "MERGE",
}

// ValidateSQL strips comments and checks that the statement is a single
// SELECT containing no dangerous keywords and carrying the tenant scope
// parameter. It returns the sanitized statement, and is idempotent: running
// it on its own output yields the same statement.
func ValidateSQL(sqlText string) (string, error) {
	return ValidateSQLScoped(sqlText, DefaultScopeParam)
}

// ValidateSQLScoped is ValidateSQL with a configurable scope column.
func ValidateSQLScoped(sqlText, scopeParam string) (string, error) {
	if scopeParam == "" {
		scopeParam = DefaultScopeParam
	}
	sanitized := stripComments(sqlText)
	if sanitized == "" {
		return "", stderrors.NewDangerousSQLError("empty statement")
	}

	upper := strings.ToUpper(sanitized)
	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return "", stderrors.NewDangerousSQLError("only SELECT statements are allowed")
	}

	if strings.Contains(strings.TrimSuffix(sanitized, ";"), ";") {
		return "", stderrors.NewDangerousSQLError("multiple statements are not allowed")
	}

	for _, kw := range dangerousKeywords {
		if containsKeyword(upper, kw) {
			return "", stderrors.NewDangerousSQLError("forbidden keyword: " + kw)
		}
	}

	if !scopePattern(scopeParam).MatchString(sanitized) {
		return "", stderrors.NewMissingScopeParamError(scopeParam)
	}

	return sanitized, nil
}

func stripComments(sqlText string) string {
	out := blockCommentPattern.ReplaceAllString(sqlText, " ")
	out = lineCommentPattern.ReplaceAllString(out, " ")
	return strings.TrimSpace(strings.Join(strings.Fields(out), " "))
}

// containsKeyword matches kw as a whole word so column names like
// "created_at" never trip the CREATE check.
func containsKeyword(upper, kw string) bool {
	idx := 0
	for {
		pos := strings.Index(upper[idx:], kw)
		if pos < 0 {
			return false
		}
		start := idx + pos
		end := start + len(kw)
		beforeOK := start == 0 || !isWordChar(upper[start-1])
		afterOK := end == len(upper) || !isWordChar(upper[end])
		if beforeOK && afterOK {
			return true
		}
		idx = end
	}
}

func isWordChar(c byte) bool {
	return c == '_' || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z')
}
