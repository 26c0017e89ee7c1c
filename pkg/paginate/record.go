package paginate

import (
	"encoding/json"
	"strconv"
)

// Record is one raw record from the CRM API: an opaque key-value mapping
// with a stable identifier. Field names vary by endpoint (deal listings
// use upper-case keys, dialog messages lower-case), so the accessors try
// both spellings and tolerate string and numeric identifiers.
type Record map[string]any

// ID returns the record identifier as a string.
// The second return is false when no identifier field is present.
func (r Record) ID() (string, bool) {
	for _, key := range []string{"ID", "id"} {
		if v, ok := r[key]; ok {
			if s := stringify(v); s != "" {
				return s, true
			}
		}
	}
	return "", false
}

// NumericID returns the identifier as an integer, for cursor arithmetic
// on newest-first message APIs.
func (r Record) NumericID() (int64, bool) {
	id, ok := r.ID()
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// AuthorID returns the author identifier, or 0 when absent. An author of
// 0 is the system/bot sentinel.
func (r Record) AuthorID() int64 {
	for _, key := range []string{"AUTHOR_ID", "author_id"} {
		if v, ok := r[key]; ok {
			if n, err := strconv.ParseInt(stringify(v), 10, 64); err == nil {
				return n
			}
		}
	}
	return 0
}

// Text returns the free-text body of the record, checking the comment
// and message spellings.
func (r Record) Text() string {
	for _, key := range []string{"COMMENT", "text"} {
		if v, ok := r[key]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}

// Created returns the creation timestamp string as sent by the API.
func (r Record) Created() string {
	for _, key := range []string{"CREATED", "DATE_CREATE", "date"} {
		if v, ok := r[key]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}

// stringify renders an identifier value: strings pass through, numbers
// are formatted without a fractional part when integral.
func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case json.Number:
		return val.String()
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	default:
		return ""
	}
}
