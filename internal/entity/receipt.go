package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Store and ItemCategory are owned by the expense domain; the scanner only reads them.
type Store struct {
	ID       string
	Name     string
	Location string
}

type ItemCategory struct {
	ID   string
	Name string
}

// ScanResult is the advisory pre-fill returned for a completed job.
type ScanResult struct {
	Store             StoreCandidate  `json:"store"`
	Items             []ItemCandidate `json:"items"`
	RecordedAt        *time.Time      `json:"recordedAt,omitempty"`
	SuggestedCategory *string         `json:"suggestedCategory,omitempty"`
	RawText           string          `json:"rawText"`
	Confidence        float64         `json:"confidence"`
}

type StoreCandidate struct {
	Name     string  `json:"name"`
	Location string  `json:"location"`
	StoreID  *string `json:"storeId,omitempty"`
	Matched  bool    `json:"matched"`
}

type ItemCandidate struct {
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Quantity  decimal.Decimal `json:"quantity"`
	Category  CategoryMatch   `json:"category"`
}

type CategoryMatch struct {
	ID      *string `json:"id,omitempty"`
	Name    string  `json:"name"`
	Matched bool    `json:"matched"`
}
