package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"price-history-backfill/internal/pricing"
)

const (
	historyPathFormat = "/price/history/%s/detailed"
	defaultBaseURL    = "https://infinite-api.tcgplayer.com"
	defaultOrigin     = "https://www.tcgplayer.com"
)

// HistoryOptions parameterise the price history API fetcher.
type HistoryOptions struct {
	BaseURL string
	Origin  string
}

// History fetches detailed price history from the source's JSON API.
type History struct {
	opts    HistoryOptions
	session *HTTPSession
	logger  zerolog.Logger
	baseURL string
}

// NewHistory constructs a history fetcher bound to session.
func NewHistory(opts HistoryOptions, session *HTTPSession, logger zerolog.Logger) *History {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if opts.Origin == "" {
		opts.Origin = defaultOrigin
	}

	return &History{
		opts:    opts,
		session: session,
		logger:  logger.With().Str("component", "history_fetcher").Logger(),
		baseURL: baseURL,
	}
}

// Fetch retrieves the buckets of one range. Non-200 responses and malformed
// payloads yield no data; 403/429 yield ErrThrottled.
func (h *History) Fetch(ctx context.Context, req RangeRequest) ([]pricing.Bucket, error) {
	if req.ExternalRef == "" {
		return nil, nil
	}

	endpoint := h.baseURL + fmt.Sprintf(historyPathFormat, url.PathEscape(req.ExternalRef))
	query := url.Values{}
	query.Set("range", string(req.Range))
	endpoint += "?" + query.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create history request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json, text/plain, */*")
	httpReq.Header.Set("Origin", h.opts.Origin)
	if req.Referer != "" {
		httpReq.Header.Set("Referer", req.Referer)
	}

	resp, err := h.session.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send history request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read history response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("history %s/%s: status %d: %w", req.ExternalRef, req.Range, resp.StatusCode, ErrThrottled)
	case resp.StatusCode != http.StatusOK:
		h.logger.Debug().Int("status", resp.StatusCode).
			Str("ref", req.ExternalRef).
			Str("range", string(req.Range)).
			Msg("non-200 history response treated as no data")
		return nil, nil
	}

	candidates, ok := ParseHistory(payload)
	if !ok {
		h.logger.Debug().Str("ref", req.ExternalRef).Str("range", string(req.Range)).Msg("malformed history payload")
		return nil, nil
	}

	selected, ok := SelectCandidate(candidates, req.Variant, req.Language)
	if !ok {
		return nil, nil
	}
	return selected.Buckets, nil
}

// ParseHistory decodes the detailed history payload. Buckets with a missing
// date or an invalid price are dropped here.
func ParseHistory(payload []byte) ([]Candidate, bool) {
	if !gjson.ValidBytes(payload) {
		return nil, false
	}
	results := gjson.GetBytes(payload, "result")
	if !results.IsArray() {
		return nil, false
	}

	candidates := make([]Candidate, 0, len(results.Array()))
	results.ForEach(func(_, result gjson.Result) bool {
		c := Candidate{
			Language: result.Get("language").String(),
			Variant:  result.Get("variant").String(),
		}
		result.Get("buckets").ForEach(func(_, raw gjson.Result) bool {
			price := raw.Get("marketPrice")
			if !price.Exists() || price.Type == gjson.Null {
				return true
			}
			if b, ok := pricing.NewBucket(raw.Get("bucketStartDate").String(), price.String()); ok {
				c.Buckets = append(c.Buckets, b)
			}
			return true
		})
		candidates = append(candidates, c)
		return true
	})
	return candidates, true
}

var _ RangeFetcher = (*History)(nil)
