// Package paginate assembles complete deduplicated result sets from
// page-based CRM endpoints by repeated invocation of the request client.
package paginate

import (
	"context"
	"encoding/json"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/b24tools/b24extract/pkg/logging"
)

// Prometheus metrics for pagination.
var (
	pagesFetchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "b24_pages_fetched_total",
		Help: "Total pages fetched by method",
	}, []string{"method"})

	duplicatesDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "b24_duplicates_dropped_total",
		Help: "Records dropped because their identifier was already emitted",
	}, []string{"method"})

	paginationLimitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "b24_pagination_limit_total",
		Help: "Extractions stopped by the page-count safety limit",
	}, []string{"method"})
)

// Default pagination bounds. The remote API caps pages at 50 records;
// the page limit guards against endpoints that never return a short page.
const (
	DefaultPageSize = 50
	DefaultMaxPages = 100
)

// Fetcher executes one logical CRM call. *client.Client implements it.
type Fetcher interface {
	Call(ctx context.Context, method string, params map[string]any) (json.RawMessage, error)
}

// Options configure one FetchAll run.
type Options struct {
	// PageSize is the API's maximum items per call (default 50).
	// A page shorter than this is the last page.
	PageSize int

	// MaxPages bounds the number of requests regardless of strategy
	// (default 100).
	MaxPages int

	// Strategy is the cursor strategy (default: offset).
	Strategy Strategy

	// ItemsKey is the object key holding the record array when the
	// payload is not itself an array (e.g. "messages" for dialog
	// history). Empty means the payload is the array.
	ItemsKey string
}

// FetchAll walks every page of a result set, deduplicating by record
// identifier. Records collected so far are always returned, also when
// the walk ends early: a failed request or a cancelled context yields
// the partial result plus the terminating error. Reaching the page
// limit is reported as a warning, not an error.
func FetchAll(ctx context.Context, f Fetcher, method string, base map[string]any, opts Options) ([]Record, error) {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = DefaultMaxPages
	}
	if opts.Strategy == nil {
		opts.Strategy = NewOffsetStrategy()
	}

	logger := logging.NewLogger("paginate")

	seen := make(map[string]struct{})
	var out []Record

	for page := 0; ; page++ {
		if err := ctx.Err(); err != nil {
			logger.Warn().
				Str("method", method).
				Int("pages", page).
				Int("records", len(out)).
				Msg("Extraction interrupted, returning partial result")
			return out, err
		}

		if page >= opts.MaxPages {
			paginationLimitTotal.WithLabelValues(method).Inc()
			logger.Warn().
				Str("method", method).
				Int("max_pages", opts.MaxPages).
				Int("records", len(out)).
				Msg("Pagination safety limit reached")
			return out, nil
		}

		params := make(map[string]any, len(base)+1)
		for k, v := range base {
			params[k] = v
		}
		opts.Strategy.Apply(params)

		payload, err := f.Call(ctx, method, params)
		if err != nil {
			// End of data from this layer's point of view; the caller
			// inspects the error when the distinction matters.
			logger.Debug().
				Err(err).
				Str("method", method).
				Int("pages", page).
				Msg("Stopping pagination on request failure")
			return out, err
		}

		items, err := decodePage(payload, opts.ItemsKey)
		if err != nil {
			logger.Warn().
				Err(err).
				Str("method", method).
				Msg("Stopping pagination on undecodable page")
			return out, err
		}

		pagesFetchedTotal.WithLabelValues(method).Inc()

		if len(items) == 0 {
			logPages(logger, method, page+1, len(out))
			return out, nil
		}

		newCount := 0
		for _, rec := range items {
			id, ok := rec.ID()
			if !ok {
				// Records without an identifier cannot be deduplicated
				// and are not real records.
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, rec)
			newCount++
		}
		duplicatesDroppedTotal.WithLabelValues(method).Add(float64(len(items) - newCount))

		// All duplicates means the cursor stopped making progress.
		if newCount == 0 {
			logPages(logger, method, page+1, len(out))
			return out, nil
		}

		// A short page is the last page.
		if len(items) < opts.PageSize {
			logPages(logger, method, page+1, len(out))
			return out, nil
		}

		if !opts.Strategy.Advance(items) {
			logPages(logger, method, page+1, len(out))
			return out, nil
		}
	}
}

func logPages(logger zerolog.Logger, method string, pages, records int) {
	logger.Info().
		Str("method", method).
		Int("pages", pages).
		Int("records", records).
		Msg("Extraction complete")
}

// decodePage turns a payload into a record slice. The payload is either
// the array itself or an object holding the array under itemsKey.
func decodePage(payload json.RawMessage, itemsKey string) ([]Record, error) {
	if itemsKey != "" {
		var wrapper map[string]json.RawMessage
		if err := json.Unmarshal(payload, &wrapper); err != nil {
			return nil, err
		}
		inner, ok := wrapper[itemsKey]
		if !ok {
			return nil, nil
		}
		payload = inner
	}

	var items []Record
	if err := json.Unmarshal(payload, &items); err != nil {
		return nil, err
	}
	return items, nil
}
