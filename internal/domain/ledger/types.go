// Package ledger defines the core value types shared by the matching,
// rules, and enrichment pipelines: bank transactions as imported from the
// bank feed, purchase records imported from non-bank sources, the match
// candidates linking the two, and the enrichment result attached to a
// transaction once it has been classified.
package ledger

import (
	"strings"
	"time"
)

// Direction indicates which way money moved on a bank transaction.
type Direction string

const (
	DirectionDebit  Direction = "DEBIT"
	DirectionCredit Direction = "CREDIT"
)

// SourceType identifies the system a purchase record was imported from.
type SourceType string

const (
	SourceAmazon         SourceType = "amazon"
	SourceAmazonBusiness SourceType = "amazon_business"
	SourceApple          SourceType = "apple"
	SourceReturns        SourceType = "returns"
	SourceGmail          SourceType = "gmail"
)

// BankTransaction is a single imported bank-feed transaction. Immutable once
// imported; matching and enrichment attach results alongside it, they never
// modify it.
type BankTransaction struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Description  string    `json:"description"`
	Amount       float64   `json:"amount"` // signed, negative = debit
	Currency     string    `json:"currency"`
	MerchantName string    `json:"merchant_name,omitempty"` // source-provided, optional
	Direction    Direction `json:"direction"`
}

// SourceRecord generalizes an Amazon order, Amazon Business order, Apple
// purchase, or return record. Read-only once imported from its collaborator.
type SourceRecord struct {
	SourceType  SourceType `json:"source_type"`
	SourceID    string     `json:"source_id"`
	OrderID     string     `json:"order_id"`
	OccurredAt  time.Time  `json:"occurred_at"`
	Amount      float64    `json:"amount"`
	Description string     `json:"description,omitempty"`
}

// MatchCandidate links a bank transaction to a source record with a
// confidence score. Confidence is a pure function of amount delta and date
// offset and is never mutated after creation.
type MatchCandidate struct {
	TransactionID  string     `json:"transaction_id"`
	SourceType     SourceType `json:"source_type"`
	SourceID       string     `json:"source_id"`
	OrderID        string     `json:"order_id"`
	Confidence     int        `json:"confidence"` // 0-100
	DateOffsetDays int        `json:"date_offset_days"`
	MatchMethod    string     `json:"match_method"`
	IsPrimary      bool       `json:"is_primary"`
}

// EnrichmentSource records how an enrichment result was produced.
type EnrichmentSource string

const (
	EnrichmentSourceRule   EnrichmentSource = "rule"
	EnrichmentSourceLLM    EnrichmentSource = "llm"
	EnrichmentSourceCache  EnrichmentSource = "cache"
	EnrichmentSourceManual EnrichmentSource = "manual"
)

// EnrichmentResult is the category/merchant/payment metadata attached to a
// transaction. At most one result is active per transaction; re-enrichment
// overwrites.
type EnrichmentResult struct {
	PrimaryCategory   string           `json:"primary_category"`
	Subcategory       string           `json:"subcategory,omitempty"`
	MerchantCleanName string           `json:"merchant_clean_name,omitempty"`
	MerchantType      string           `json:"merchant_type,omitempty"`
	Essential         bool             `json:"essential"`
	PaymentMethod     string           `json:"payment_method,omitempty"`
	Confidence        float64          `json:"confidence_score"` // 0.0-1.0
	Source            EnrichmentSource `json:"enrichment_source"`
	Provider          string           `json:"provider,omitempty"`
	Model             string           `json:"model,omitempty"`
}

// SourceKey returns a stable identity for a source record, used to enforce
// the one-primary-match-per-record invariant.
func (r SourceRecord) SourceKey() string {
	return string(r.SourceType) + ":" + r.SourceID
}

// CacheKey normalizes a description + direction pair into the content
// address used by the enrichment cache. Identical text always enriches
// identically, so the key carries no expiry component.
func CacheKey(description string, direction Direction) string {
	desc := strings.ToLower(strings.TrimSpace(description))
	desc = strings.Join(strings.Fields(desc), " ")
	return desc + "|" + strings.ToLower(string(direction))
}
