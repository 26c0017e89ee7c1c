// Package bitrix implements the extraction operations of the CRM export
// tool on top of the request client: deal listing, deal lookup, timeline
// dialogue retrieval, and dialog message history.
package bitrix

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/b24tools/b24extract/pkg/logging"
	"github.com/b24tools/b24extract/pkg/paginate"
	"github.com/b24tools/b24extract/pkg/textfilter"
)

// PageSize is the remote API's maximum records per call.
const PageSize = 50

// dealFields are the fields selected on every deal read.
var dealFields = []string{"ID", "TITLE", "STAGE_ID", "OPPORTUNITY", "DATE_CREATE"}

// dialogueFields are the fields selected on timeline comment reads.
var dialogueFields = []string{"ID", "COMMENT", "CREATED", "AUTHOR_ID"}

// Extractor runs the high-level extraction operations.
type Extractor struct {
	client paginate.Fetcher
	filter *textfilter.Filter
	logger zerolog.Logger
}

// NewExtractor creates an extractor with the default text filter.
func NewExtractor(client paginate.Fetcher) *Extractor {
	return &Extractor{
		client: client,
		filter: textfilter.New(textfilter.Config{}),
		logger: logging.NewLogger("extractor"),
	}
}

// SetFilter replaces the text filter, e.g. with customized marker lists.
func (e *Extractor) SetFilter(f *textfilter.Filter) {
	e.filter = f
}

// FirstDeal returns the oldest deal, or nil when the CRM has none.
func (e *Extractor) FirstDeal(ctx context.Context) (paginate.Record, error) {
	params := map[string]any{
		"order":  map[string]any{"DATE_CREATE": "ASC"},
		"select": dealFields,
	}
	payload, err := e.client.Call(ctx, "crm.deal.list", params)
	if err != nil {
		return nil, err
	}

	var deals []paginate.Record
	if err := json.Unmarshal(payload, &deals); err != nil {
		return nil, fmt.Errorf("decode deals: %w", err)
	}
	if len(deals) == 0 {
		return nil, nil
	}
	return deals[0], nil
}

// AllDeals retrieves every deal, oldest first, via offset pagination.
func (e *Extractor) AllDeals(ctx context.Context) ([]paginate.Record, error) {
	params := map[string]any{
		"order":  map[string]any{"DATE_CREATE": "ASC"},
		"select": dealFields,
	}
	return paginate.FetchAll(ctx, e.client, "crm.deal.list", params, paginate.Options{
		PageSize: PageSize,
	})
}

// DealByID looks up one deal. Returns nil when the deal does not exist
// or the identifier is invalid.
func (e *Extractor) DealByID(ctx context.Context, dealID string) (paginate.Record, error) {
	if !ValidDealID(dealID) {
		e.logger.Error().Str("deal_id", dealID).Msg("Invalid deal ID")
		return nil, fmt.Errorf("invalid deal id: %q", dealID)
	}

	payload, err := e.client.Call(ctx, "crm.deal.get", map[string]any{"ID": dealID})
	if err != nil {
		return nil, err
	}

	var deal paginate.Record
	if err := json.Unmarshal(payload, &deal); err != nil {
		return nil, fmt.Errorf("decode deal: %w", err)
	}
	return deal, nil
}

// FindDealsByNumber finds deals carrying a number in their identifier or
// title. A purely numeric query is first tried as a direct ID lookup.
func (e *Extractor) FindDealsByNumber(ctx context.Context, number string) ([]paginate.Record, error) {
	if number == "" {
		return nil, fmt.Errorf("number is required")
	}

	if isDigits(number) {
		deal, err := e.DealByID(ctx, number)
		if err == nil && deal != nil {
			return []paginate.Record{deal}, nil
		}
	}

	params := map[string]any{
		"filter": map[string]any{"%TITLE": number},
		"select": dealFields,
	}
	payload, err := e.client.Call(ctx, "crm.deal.list", params)
	if err != nil {
		return nil, err
	}

	var deals []paginate.Record
	if err := json.Unmarshal(payload, &deals); err != nil {
		return nil, fmt.Errorf("decode deals: %w", err)
	}
	e.logger.Info().
		Str("number", number).
		Int("found", len(deals)).
		Msg("Deal title search complete")
	return deals, nil
}

// DealDialogues retrieves all timeline comments attached to a deal,
// deduplicated across pages.
func (e *Extractor) DealDialogues(ctx context.Context, dealID string) ([]paginate.Record, error) {
	params := map[string]any{
		"filter": map[string]any{"ENTITY_ID": dealID, "ENTITY_TYPE": "DEAL"},
		"select": dialogueFields,
	}
	return paginate.FetchAll(ctx, e.client, "crm.timeline.comment.list", params, paginate.Options{
		PageSize: PageSize,
	})
}

// DialogMessages retrieves the full message history of one dialog. The
// endpoint serves newest-first pages, so the cursor walks backwards via
// the minimum identifier of each page.
func (e *Extractor) DialogMessages(ctx context.Context, dialogID string) ([]paginate.Record, error) {
	params := map[string]any{
		"DIALOG_ID": dialogID,
		"LIMIT":     PageSize,
	}
	return paginate.FetchAll(ctx, e.client, "im.dialog.messages.get", params, paginate.Options{
		PageSize: PageSize,
		Strategy: paginate.NewLastIDStrategy(),
		ItemsKey: "messages",
	})
}

// Message is one cleaned, user-authored message ready for display or
// export.
type Message struct {
	ID       string `json:"id"`
	AuthorID int64  `json:"author_id"`
	Created  string `json:"created"`
	Text     string `json:"text"`
}

// FilterMessages applies the real-versus-noise classification to raw
// records: messages attributed to the system sentinel (author 0) are
// dropped at the record level, the rest pass through the text filter.
func (e *Extractor) FilterMessages(records []paginate.Record) []Message {
	out := make([]Message, 0, len(records))
	for _, rec := range records {
		if rec.AuthorID() == 0 {
			continue
		}
		text, ok := e.filter.Clean(rec.Text())
		if !ok {
			continue
		}
		id, _ := rec.ID()
		out = append(out, Message{
			ID:       id,
			AuthorID: rec.AuthorID(),
			Created:  rec.Created(),
			Text:     text,
		})
	}
	return out
}

// ValidDealID reports whether the identifier is a positive integer.
func ValidDealID(dealID string) bool {
	if dealID == "" {
		return false
	}
	n, err := strconv.ParseInt(dealID, 10, 64)
	return err == nil && n > 0
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
