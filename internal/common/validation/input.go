package validation

import (
	"regexp"
	"strings"

	stderrors "vendora/internal/common/errors"
)

const MaxQueryLength = 1000

var dealershipIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,50}$`)

// PII patterns checked against every piece of user-facing content. A match
// anywhere is a hard compliance failure.
var piiPatterns = []struct {
	kind    string
	pattern *regexp.Regexp
}{
	{"ssn", regexp.MustCompile(`\d{3}-\d{2}-\d{4}`)},
	{"email", regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)},
	{"phone", regexp.MustCompile(`\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}`)},
}

// ValidateDealershipID checks the tenant identifier format.
func ValidateDealershipID(dealershipID string) error {
	if !dealershipIDPattern.MatchString(dealershipID) {
		return stderrors.NewDealershipIDInvalidError(dealershipID)
	}
	return nil
}

// ValidateUserQuery checks the raw query before it enters the pipeline.
func ValidateUserQuery(query string) error {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return stderrors.NewInputValidationError("query is empty")
	}
	if len(query) > MaxQueryLength {
		return stderrors.NewQueryTooLongError(len(query), MaxQueryLength)
	}
	return nil
}

// DetectPII returns the name of the first matched PII pattern, or "" when
// the text is clean.
func DetectPII(text string) string {
	for _, p := range piiPatterns {
		if p.pattern.MatchString(text) {
			return p.kind
		}
	}
	return ""
}
