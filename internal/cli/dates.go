package cli

import (
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

// parseDate accepts YYYY-MM-DD or a full RFC3339 timestamp. Empty input yields nil.
func parseDate(flag, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	if t, err := time.Parse(dateLayout, value); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, fmt.Errorf("invalid --%s value %q: expected YYYY-MM-DD", flag, value)
	}
	t = t.UTC()
	return &t, nil
}
