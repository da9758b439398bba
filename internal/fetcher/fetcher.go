package fetcher

import (
	"context"
	"errors"
	"net/url"
	"regexp"

	"price-history-backfill/internal/pricing"
)

// ErrThrottled reports that the source refused the request (403/429).
// The session should be recycled before retrying.
var ErrThrottled = errors.New("price source throttled the session")

// RangeRequest identifies one historical range to fetch for an item.
type RangeRequest struct {
	ExternalRef string
	Range       pricing.RangeKey
	Variant     string
	Language    string
	Referer     string
}

// RangeFetcher retrieves bucketed price history.
// A nil slice with a nil error means the source has no data for the request.
type RangeFetcher interface {
	Fetch(ctx context.Context, req RangeRequest) ([]pricing.Bucket, error)
}

// Session is a stateful client identity that can be replaced.
type Session interface {
	Recycle(ctx context.Context) error
}

// Candidate is one result returned by the source for a product.
type Candidate struct {
	Language string
	Variant  string
	Buckets  []pricing.Bucket
}

// SelectCandidate narrows candidates by language, then variant, and returns the
// first survivor. Filters that match nothing are ignored.
func SelectCandidate(candidates []Candidate, variant, language string) (Candidate, bool) {
	if len(candidates) == 0 {
		return Candidate{}, false
	}

	filtered := candidates
	if language != "" {
		if matches := filterCandidates(filtered, func(c Candidate) bool { return c.Language == language }); len(matches) > 0 {
			filtered = matches
		}
	}
	if variant != "" {
		if matches := filterCandidates(filtered, func(c Candidate) bool { return c.Variant == variant }); len(matches) > 0 {
			filtered = matches
		}
	}
	return filtered[0], true
}

func filterCandidates(in []Candidate, keep func(Candidate) bool) []Candidate {
	out := make([]Candidate, 0, len(in))
	for _, c := range in {
		if keep(c) {
			out = append(out, c)
		}
	}
	return out
}

var productRefPattern = regexp.MustCompile(`/product/(\d+)`)

// RefFromURL extracts the source product id from a catalog URL.
func RefFromURL(raw string) string {
	match := productRefPattern.FindStringSubmatch(raw)
	if len(match) < 2 {
		return ""
	}
	return match[1]
}

// LanguageFromURL returns the Language query parameter, if any.
func LanguageFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	q := u.Query()
	if lang := q.Get("Language"); lang != "" {
		return lang
	}
	return q.Get("language")
}

// ResolveItems fills ExternalRef and LanguageHint from each item's catalog URL
// when they are not already set.
func ResolveItems(items []pricing.Item) []pricing.Item {
	for i := range items {
		if items[i].ExternalRef == "" {
			items[i].ExternalRef = RefFromURL(items[i].URL)
		}
		if items[i].LanguageHint == "" {
			items[i].LanguageHint = LanguageFromURL(items[i].URL)
		}
	}
	return items
}
