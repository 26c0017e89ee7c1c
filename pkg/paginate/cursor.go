package paginate

// Strategy carries the continuation state of one extraction and maps it
// onto request parameters. A strategy instance belongs to exactly one
// FetchAll call.
type Strategy interface {
	// Apply adds the cursor-derived fields to the request parameters.
	Apply(params map[string]any)

	// Advance moves the cursor past the given page. It returns false
	// when the cursor cannot make progress, which terminates pagination.
	Advance(page []Record) bool
}

// offsetStrategy pages through list endpoints with a "start" offset that
// grows by the page length.
type offsetStrategy struct {
	start int
}

// NewOffsetStrategy returns the cursor strategy for top-level entity
// listings (crm.deal.list, crm.timeline.comment.list).
func NewOffsetStrategy() Strategy {
	return &offsetStrategy{}
}

func (s *offsetStrategy) Apply(params map[string]any) {
	params["start"] = s.start
}

func (s *offsetStrategy) Advance(page []Record) bool {
	s.start += len(page)
	return true
}

// lastIDStrategy pages through newest-first message history: each request
// asks for records strictly older than the minimum identifier seen so far.
type lastIDStrategy struct {
	last int64
	set  bool
}

// NewLastIDStrategy returns the cursor strategy for dialog/message
// history endpoints (im.dialog.messages.get).
func NewLastIDStrategy() Strategy {
	return &lastIDStrategy{}
}

func (s *lastIDStrategy) Apply(params map[string]any) {
	if s.set {
		params["LAST_ID"] = s.last
	}
}

func (s *lastIDStrategy) Advance(page []Record) bool {
	min := int64(0)
	found := false
	for _, rec := range page {
		id, ok := rec.NumericID()
		if !ok {
			continue
		}
		if !found || id < min {
			min = id
			found = true
		}
	}
	// A page without a single numeric identifier cannot move the cursor.
	if !found {
		return false
	}
	s.last = min
	s.set = true
	return true
}
