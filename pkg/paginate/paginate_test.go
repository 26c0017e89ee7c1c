package paginate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

// fakeFetcher serves pages from a canned function and records requests.
type fakeFetcher struct {
	calls  []map[string]any
	handle func(params map[string]any) (json.RawMessage, error)
}

func (f *fakeFetcher) Call(_ context.Context, _ string, params map[string]any) (json.RawMessage, error) {
	f.calls = append(f.calls, params)
	return f.handle(params)
}

// dealsJSON renders records with sequential IDs in [from, to).
func dealsJSON(from, to int) json.RawMessage {
	items := make([]map[string]any, 0, to-from)
	for i := from; i < to; i++ {
		items = append(items, map[string]any{
			"ID":    fmt.Sprintf("%d", i),
			"TITLE": fmt.Sprintf("Deal %d", i),
		})
	}
	data, _ := json.Marshal(items)
	return data
}

func TestFetchAllOffsetPagination(t *testing.T) {
	// 120 records with page size 50: pages of 50, 50, 20.
	total := 120
	f := &fakeFetcher{}
	f.handle = func(params map[string]any) (json.RawMessage, error) {
		start := params["start"].(int)
		end := start + 50
		if end > total {
			end = total
		}
		return dealsJSON(start, end), nil
	}

	records, err := FetchAll(context.Background(), f, "crm.deal.list", nil, Options{})
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}

	if len(records) != 120 {
		t.Errorf("got %d records, want 120", len(records))
	}
	if len(f.calls) != 3 {
		t.Errorf("got %d requests, want 3", len(f.calls))
	}
}

func TestFetchAllShortPageTerminates(t *testing.T) {
	f := &fakeFetcher{}
	f.handle = func(params map[string]any) (json.RawMessage, error) {
		return dealsJSON(0, 10), nil
	}

	records, err := FetchAll(context.Background(), f, "crm.deal.list", nil, Options{})
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}

	if len(records) != 10 {
		t.Errorf("got %d records, want 10", len(records))
	}
	// A page shorter than PageSize is the last page: no extra request.
	if len(f.calls) != 1 {
		t.Errorf("got %d requests, want 1", len(f.calls))
	}
}

func TestFetchAllDeduplicatesOverlappingPages(t *testing.T) {
	// Two full pages overlapping by 10 records, then a short page.
	pages := []json.RawMessage{
		dealsJSON(0, 50),
		dealsJSON(40, 90), // 40..49 already emitted
		dealsJSON(90, 100),
	}
	call := 0
	f := &fakeFetcher{}
	f.handle = func(params map[string]any) (json.RawMessage, error) {
		page := pages[call]
		call++
		return page, nil
	}

	records, err := FetchAll(context.Background(), f, "crm.deal.list", nil, Options{})
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}

	if len(records) != 100 {
		t.Errorf("got %d records, want 100", len(records))
	}

	seen := make(map[string]bool)
	for _, rec := range records {
		id, _ := rec.ID()
		if seen[id] {
			t.Fatalf("duplicate identifier emitted: %s", id)
		}
		seen[id] = true
	}
}

func TestFetchAllStopsWhenNoNewRecords(t *testing.T) {
	// The cursor stops making progress: every page repeats the same 50 IDs.
	f := &fakeFetcher{}
	f.handle = func(params map[string]any) (json.RawMessage, error) {
		return dealsJSON(0, 50), nil
	}

	records, err := FetchAll(context.Background(), f, "crm.deal.list", nil, Options{})
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}

	if len(records) != 50 {
		t.Errorf("got %d records, want 50", len(records))
	}
	if len(f.calls) != 2 {
		t.Errorf("got %d requests, want 2 (full page + all-duplicates page)", len(f.calls))
	}
}

func TestFetchAllEmptyFirstPage(t *testing.T) {
	f := &fakeFetcher{}
	f.handle = func(params map[string]any) (json.RawMessage, error) {
		return json.RawMessage(`[]`), nil
	}

	records, err := FetchAll(context.Background(), f, "crm.deal.list", nil, Options{})
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("got %d records, want 0", len(records))
	}
}

func TestFetchAllKeepsPartialResultOnError(t *testing.T) {
	callErr := errors.New("boom")
	call := 0
	f := &fakeFetcher{}
	f.handle = func(params map[string]any) (json.RawMessage, error) {
		call++
		if call > 2 {
			return nil, callErr
		}
		start := params["start"].(int)
		return dealsJSON(start, start+50), nil
	}

	records, err := FetchAll(context.Background(), f, "crm.deal.list", nil, Options{})
	if !errors.Is(err, callErr) {
		t.Errorf("err = %v, want the request failure", err)
	}
	if len(records) != 100 {
		t.Errorf("got %d records, want the 100 collected before the failure", len(records))
	}
}

func TestFetchAllContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	call := 0
	f := &fakeFetcher{}
	f.handle = func(params map[string]any) (json.RawMessage, error) {
		call++
		if call == 2 {
			// Interrupt after two of five pages are under way.
			defer cancel()
		}
		start := params["start"].(int)
		return dealsJSON(start, start+50), nil
	}

	records, err := FetchAll(ctx, f, "crm.deal.list", nil, Options{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if len(records) != 100 {
		t.Errorf("got %d records after interrupt, want 100", len(records))
	}
}

func TestFetchAllMaxPagesWarningNotFatal(t *testing.T) {
	// Endpoint misbehaves: always full pages of fresh records.
	next := 0
	f := &fakeFetcher{}
	f.handle = func(params map[string]any) (json.RawMessage, error) {
		page := dealsJSON(next, next+50)
		next += 50
		return page, nil
	}

	records, err := FetchAll(context.Background(), f, "crm.deal.list", nil, Options{MaxPages: 5})
	if err != nil {
		t.Fatalf("page limit should not be an error, got %v", err)
	}
	if len(records) != 250 {
		t.Errorf("got %d records, want 250", len(records))
	}
	if len(f.calls) != 5 {
		t.Errorf("got %d requests, want 5", len(f.calls))
	}
}

func TestFetchAllLastIDStrategy(t *testing.T) {
	// Newest-first message history: ids 120..1, pages of 50 with a
	// one-record overlap at each LAST_ID boundary.
	f := &fakeFetcher{}
	f.handle = func(params map[string]any) (json.RawMessage, error) {
		high := int64(120)
		if last, ok := params["LAST_ID"]; ok {
			high = last.(int64)
		}
		var items []map[string]any
		for id := high; id > high-50 && id > 0; id-- {
			items = append(items, map[string]any{
				"id":        id,
				"author_id": 7,
				"text":      fmt.Sprintf("message %d", id),
			})
		}
		wrapper := map[string]any{"messages": items}
		data, _ := json.Marshal(wrapper)
		return data, nil
	}

	records, err := FetchAll(context.Background(), f, "im.dialog.messages.get",
		map[string]any{"DIALOG_ID": "chat5", "LIMIT": 50},
		Options{Strategy: NewLastIDStrategy(), ItemsKey: "messages"})
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}

	// Pages: 120..71, then LAST_ID=71 gives 71..22 (71 is a duplicate),
	// then LAST_ID=22 gives 22..1 (short page).
	if len(records) != 120 {
		t.Errorf("got %d records, want 120", len(records))
	}

	// First request must not carry LAST_ID.
	if _, ok := f.calls[0]["LAST_ID"]; ok {
		t.Error("first request should not include LAST_ID")
	}
	if len(f.calls) < 2 {
		t.Fatalf("expected multiple requests, got %d", len(f.calls))
	}
	if got := f.calls[1]["LAST_ID"].(int64); got != 71 {
		t.Errorf("second request LAST_ID = %d, want 71", got)
	}
}

func TestFetchAllBaseParamsNotMutated(t *testing.T) {
	base := map[string]any{"DIALOG_ID": "chat1"}
	f := &fakeFetcher{}
	f.handle = func(params map[string]any) (json.RawMessage, error) {
		return json.RawMessage(`[]`), nil
	}

	if _, err := FetchAll(context.Background(), f, "m", base, Options{}); err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	if len(base) != 1 {
		t.Errorf("base params mutated: %v", base)
	}
}
