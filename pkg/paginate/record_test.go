package paginate

import (
	"encoding/json"
	"testing"
)

func TestRecordID(t *testing.T) {
	tests := []struct {
		name   string
		record Record
		wantID string
		wantOK bool
	}{
		{"upper case string", Record{"ID": "42"}, "42", true},
		{"lower case number", Record{"id": float64(17)}, "17", true},
		{"missing", Record{"TITLE": "no id"}, "", false},
		{"empty string", Record{"ID": ""}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, ok := tt.record.ID()
			if ok != tt.wantOK || id != tt.wantID {
				t.Errorf("ID() = (%q, %v), want (%q, %v)", id, ok, tt.wantID, tt.wantOK)
			}
		})
	}
}

func TestRecordNumericID(t *testing.T) {
	rec := Record{"id": float64(311)}
	n, ok := rec.NumericID()
	if !ok || n != 311 {
		t.Errorf("NumericID() = (%d, %v), want (311, true)", n, ok)
	}

	rec = Record{"ID": "chat7"}
	if _, ok := rec.NumericID(); ok {
		t.Error("non-numeric identifier should not convert")
	}
}

func TestRecordAuthorID(t *testing.T) {
	tests := []struct {
		name   string
		record Record
		want   int64
	}{
		{"message field", Record{"author_id": float64(5)}, 5},
		{"comment field", Record{"AUTHOR_ID": "12"}, 12},
		{"system sentinel", Record{"author_id": float64(0)}, 0},
		{"absent", Record{}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.record.AuthorID(); got != tt.want {
				t.Errorf("AuthorID() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRecordText(t *testing.T) {
	if got := (Record{"COMMENT": "hello"}).Text(); got != "hello" {
		t.Errorf("Text() = %q, want %q", got, "hello")
	}
	if got := (Record{"text": "hi"}).Text(); got != "hi" {
		t.Errorf("Text() = %q, want %q", got, "hi")
	}
	if got := (Record{}).Text(); got != "" {
		t.Errorf("Text() on empty record = %q, want empty", got)
	}
}

func TestRecordFromJSON(t *testing.T) {
	raw := `{"id": 311721445, "author_id": 3, "text": "ok", "date": "2024-03-01T10:00:00+03:00"}`
	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	id, ok := rec.ID()
	if !ok || id != "311721445" {
		t.Errorf("ID() = (%q, %v), want (311721445, true)", id, ok)
	}
	if rec.AuthorID() != 3 {
		t.Errorf("AuthorID() = %d, want 3", rec.AuthorID())
	}
	if rec.Created() != "2024-03-01T10:00:00+03:00" {
		t.Errorf("Created() = %q", rec.Created())
	}
}
