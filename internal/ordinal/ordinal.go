// Package ordinal implements the two-letter-plus-four-digit identifier space
// underlying both ID layers: AA0000 -> AA0001 -> ... -> AA9999 -> AB0000 ->
// ... -> ZZ9999. 6,760,000 values total, allocated monotonically and never
// reused.
package ordinal

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/biomarker-kb-server/internal/domain"
)

// Seed is the value fed into Next when the canonical ID map is empty. Note
// that the seed acts as the previous value, so the first allocated ID is
// AA0001 and AA0000 itself is never assigned. Downstream data relies on this,
// so it is pinned by a regression test rather than corrected.
const Seed = "AA0000"

var (
	canonicalPattern   = regexp.MustCompile(`^[A-Z]{2}[0-9]{4}$`)
	secondLevelPattern = regexp.MustCompile(`^[A-Z]{2}[0-9]{4}-[0-9]+$`)
)

// Next returns the ordinal following curr. It returns
// domain.ErrIDSpaceExhausted once curr is ZZ9999.
func Next(curr string) (string, error) {
	if !canonicalPattern.MatchString(curr) {
		return "", fmt.Errorf("invalid ordinal ID %q", curr)
	}

	letters := curr[:2]
	numbers, err := strconv.Atoi(curr[2:])
	if err != nil {
		return "", fmt.Errorf("invalid ordinal ID %q: %w", curr, err)
	}

	if numbers < 9999 {
		return fmt.Sprintf("%s%04d", letters, numbers+1), nil
	}
	if letters == "ZZ" {
		return "", domain.ErrIDSpaceExhausted
	}

	first, second := letters[0], letters[1]
	if second == 'Z' {
		first++
		second = 'A'
	} else {
		second++
	}
	return fmt.Sprintf("%c%c0000", first, second), nil
}

// ValidateCanonical reports whether id is a well formed canonical ID.
func ValidateCanonical(id string) bool {
	return canonicalPattern.MatchString(id)
}

// ValidateSecondLevel reports whether id is a well formed second level ID
// (<canonicalID>-<n>).
func ValidateSecondLevel(id string) bool {
	return secondLevelPattern.MatchString(id)
}
