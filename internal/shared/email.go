package shared

import (
	"strings"

	"golang.org/x/text/cases"
)

// FoldEmail returns the comparison key for an email address.
func FoldEmail(email string) string {
	return cases.Fold().String(strings.TrimSpace(email))
}
