package providers

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaihaan/spendmatch/internal/domain/ledger"
)

// wireEnrichment is the JSON shape the model is instructed to return for
// each transaction.
type wireEnrichment struct {
	TransactionID   string  `json:"transaction_id"`
	PrimaryCategory string  `json:"primary_category"`
	Subcategory     string  `json:"subcategory"`
	MerchantName    string  `json:"merchant_name"`
	MerchantType    string  `json:"merchant_type"`
	Essential       bool    `json:"essential"`
	PaymentMethod   string  `json:"payment_method"`
	Confidence      float64 `json:"confidence"`
}

type wireResponse struct {
	Enrichments []wireEnrichment `json:"enrichments"`
}

// BuildPrompt renders the classification instructions for one batch. Both
// backends share the prompt; they differ only in transport.
func BuildPrompt(batch []BatchItem, direction ledger.Direction) string {
	var lines strings.Builder
	for i, item := range batch {
		tx := item.Transaction
		fmt.Fprintf(&lines, "%d. id=%s amount=%.2f %s description=%q",
			i+1, tx.ID, tx.Amount, tx.Currency, tx.Description)
		if tx.MerchantName != "" {
			fmt.Fprintf(&lines, " merchant=%q", tx.MerchantName)
		}
		if item.Hint != nil {
			fmt.Fprintf(&lines, " known_merchant=%q merchant_type=%q likely_category=%q",
				item.Hint.NormalizedName, item.Hint.MerchantType, item.Hint.DefaultCategory)
		}
		lines.WriteString("\n")
	}

	return fmt.Sprintf(`You are a personal-finance classifier for UK bank transactions.

Classify each %s transaction below. For every transaction return:
- "transaction_id": copied exactly from the input
- "primary_category": e.g. Groceries, Utilities, Transport, Eating Out, Shopping, Entertainment, Healthcare, Income, Transfers
- "subcategory": a more specific label, or ""
- "merchant_name": the clean human-readable merchant name
- "merchant_type": e.g. supermarket, utility, subscription, restaurant
- "essential": true for unavoidable living costs, false for discretionary spend
- "payment_method": DIRECT_DEBIT, CARD, STANDING_ORDER, TRANSFER, or the wallet name if one appears
- "confidence": 0.0 to 1.0

When a known_merchant hint is given, prefer it unless the description
clearly contradicts it.

Transactions:
%s
Return STRICT JSON only, no markdown fences, shaped as:
{"enrichments":[{"transaction_id":"...","primary_category":"...","subcategory":"...","merchant_name":"...","merchant_type":"...","essential":true,"payment_method":"...","confidence":0.95}]}`,
		strings.ToLower(string(direction)), lines.String())
}

// ParseResponse decodes the model's JSON into results keyed by transaction
// ID. Markdown fences are stripped first; models occasionally ignore the
// formatting instruction.
func ParseResponse(provider, model, raw string) (map[string]ledger.EnrichmentResult, error) {
	clean := StripFences(raw)

	var resp wireResponse
	if err := json.Unmarshal([]byte(clean), &resp); err != nil {
		return nil, fmt.Errorf("parsing %s response: %w", provider, err)
	}

	results := make(map[string]ledger.EnrichmentResult, len(resp.Enrichments))
	for _, e := range resp.Enrichments {
		if e.TransactionID == "" {
			continue
		}
		results[e.TransactionID] = ledger.EnrichmentResult{
			PrimaryCategory:   e.PrimaryCategory,
			Subcategory:       e.Subcategory,
			MerchantCleanName: e.MerchantName,
			MerchantType:      e.MerchantType,
			Essential:         e.Essential,
			PaymentMethod:     e.PaymentMethod,
			Confidence:        e.Confidence,
			Source:            ledger.EnrichmentSourceLLM,
			Provider:          provider,
			Model:             model,
		}
	}
	return results, nil
}

// StripFences removes ```json wrappers and keeps the outermost JSON object
// if extra prose surrounds it.
func StripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		}
		if idx := strings.LastIndex(s, "```"); idx != -1 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end > start {
			s = s[start : end+1]
		}
	}
	return s
}
