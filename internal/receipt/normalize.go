package receipt

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"receipt-scan-service/internal/entity"
	"receipt-scan-service/internal/extraction"
)

var recordedAtLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"01/02/2006 15:04",
	"01/02/2006",
	"02.01.2006",
}

// Item returns the normalized line item without a category, and false when the
// line carries no usable name.
func Item(raw extraction.RawItem) (entity.ItemCandidate, bool) {
	name := strings.Join(strings.Fields(raw.Name), " ")
	if name == "" {
		return entity.ItemCandidate{}, false
	}

	qty := decimal.NewFromInt(1)
	if raw.Quantity.Valid && raw.Quantity.Decimal.IsPositive() {
		qty = raw.Quantity.Decimal
	}

	return entity.ItemCandidate{
		Name:      name,
		UnitPrice: raw.UnitPrice.Round(2),
		Quantity:  qty,
	}, true
}

// ParseRecordedAt accepts the timestamp shapes receipts commonly carry. Values
// without a zone are read as UTC; unparseable values are dropped.
func ParseRecordedAt(s *string) *time.Time {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	for _, layout := range recordedAtLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

// Finalize fixes up the assembled result so the client always gets the same shape.
func Finalize(res *entity.ScanResult) {
	if res.Items == nil {
		res.Items = []entity.ItemCandidate{}
	}
	res.RawText = strings.TrimSpace(res.RawText)
	if res.SuggestedCategory != nil {
		c := strings.TrimSpace(*res.SuggestedCategory)
		if c == "" {
			res.SuggestedCategory = nil
		} else {
			res.SuggestedCategory = &c
		}
	}
	switch {
	case res.Confidence < 0:
		res.Confidence = 0
	case res.Confidence > 1:
		res.Confidence = 1
	}
}
