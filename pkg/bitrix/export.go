package bitrix

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/b24tools/b24extract/pkg/paginate"
	"github.com/b24tools/b24extract/pkg/stats"
)

// DealResult pairs a deal with its cleaned dialogue messages.
type DealResult struct {
	Deal         paginate.Record `json:"deal"`
	Messages     []Message       `json:"messages"`
	MessageCount int             `json:"message_count"`
}

// Report is the export envelope: the extraction results plus execution
// metadata, so a saved file is self-describing.
type Report struct {
	GeneratedAt        time.Time      `json:"generated_at"`
	Mode               string         `json:"mode"`
	TotalDeals         int            `json:"total_deals"`
	DealsWithDialogues int            `json:"deals_with_dialogues"`
	Deals              []DealResult   `json:"deals"`
	Stats              stats.Snapshot `json:"api_stats"`
}

// Add appends one deal result and maintains the summary counters.
func (r *Report) Add(result DealResult) {
	r.Deals = append(r.Deals, result)
	r.TotalDeals++
	if result.MessageCount > 0 {
		r.DealsWithDialogues++
	}
}

// WriteJSON writes the report as indented JSON.
func WriteJSON(w io.Writer, report *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return nil
}

// dealCSVHeader lists the deal columns in export order.
var dealCSVHeader = []string{"id", "title", "stage_id", "opportunity", "date_create"}

// WriteDealsCSV writes one row per deal.
func WriteDealsCSV(w io.Writer, deals []paginate.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(dealCSVHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for _, deal := range deals {
		id, _ := deal.ID()
		row := []string{
			id,
			fieldString(deal, "TITLE"),
			fieldString(deal, "STAGE_ID"),
			fieldString(deal, "OPPORTUNITY"),
			deal.Created(),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// messageCSVHeader lists the message columns in export order.
var messageCSVHeader = []string{"id", "author_id", "created", "text"}

// WriteMessagesCSV writes one row per cleaned message.
func WriteMessagesCSV(w io.Writer, messages []Message) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(messageCSVHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for _, msg := range messages {
		row := []string{msg.ID, fmt.Sprintf("%d", msg.AuthorID), msg.Created, msg.Text}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

func fieldString(rec paginate.Record, key string) string {
	if v, ok := rec[key]; ok {
		switch val := v.(type) {
		case string:
			return val
		default:
			return fmt.Sprintf("%v", val)
		}
	}
	return ""
}
