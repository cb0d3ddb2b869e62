// Package extract pulls structured fields out of free-text bank transaction
// descriptions. UK bank feeds encode the payee, reference, and direct-debit
// mandate number inline, e.g.
//
//	DIRECT DEBIT PAYMENT TO BRITISH GAS REF 882204417, MANDATE NO 0044
//	CARD PAYMENT TO TESCO STORES 2045 VIA APPLE PAY
//
// Extraction is a pure function over the description text.
package extract

import (
	"regexp"
	"strings"
)

// Kind classifies the payment mechanism inferred from the description prefix.
type Kind string

const (
	KindDirectDebit   Kind = "direct_debit"
	KindCardPayment   Kind = "card_payment"
	KindStandingOrder Kind = "standing_order"
	KindTransfer      Kind = "transfer"
	KindUnknown       Kind = "unknown"
)

// Details holds the structured fields recovered from one description.
// Fields the description does not carry are left empty.
type Details struct {
	Kind      Kind
	Payee     string
	Reference string
	MandateNo string
	Provider  string // e.g. "APPLE PAY" from "VIA APPLE PAY"
	Variant   string // trailing qualifier after the provider, if any
}

var (
	rePayee = regexp.MustCompile(`(?i)\b(?:DIRECT DEBIT(?: PAYMENT)? TO|STANDING ORDER(?: PAYMENT)? TO|CARD PAYMENT TO|BILL PAYMENT TO|TRANSFER TO|PAYMENT TO)\s+(.+?)(?:\s+REF\b|\s+VIA\b|\s+MANDATE\b|\s+ON \d|\s*,|$)`)
	reRef   = regexp.MustCompile(`(?i)\bREF(?:ERENCE)?[ .:]+([A-Z0-9][A-Z0-9\-/.]*)`)
	reMand  = regexp.MustCompile(`(?i)\bMANDATE NO[ .:]*(\d+)`)
	reVia   = regexp.MustCompile(`(?i)\bVIA\s+([A-Z]+(?: [A-Z]+)?)(?:\s*[-,]\s*([A-Z ]+?))?\s*(?:,|$)`)
)

var kindPrefixes = []struct {
	prefix string
	kind   Kind
}{
	{"DIRECT DEBIT", KindDirectDebit},
	{"DD ", KindDirectDebit},
	{"STANDING ORDER", KindStandingOrder},
	{"CARD PAYMENT", KindCardPayment},
	{"CONTACTLESS PAYMENT", KindCardPayment},
	{"TRANSFER TO", KindTransfer},
	{"TRANSFER FROM", KindTransfer},
	{"FASTER PAYMENT", KindTransfer},
}

// Extract parses a transaction description into its structured fields.
func Extract(description string) Details {
	desc := strings.Join(strings.Fields(description), " ")
	upper := strings.ToUpper(desc)

	d := Details{Kind: KindUnknown}

	for _, kp := range kindPrefixes {
		if strings.HasPrefix(upper, kp.prefix) {
			d.Kind = kp.kind
			break
		}
	}

	if m := rePayee.FindStringSubmatch(desc); m != nil {
		d.Payee = strings.TrimSpace(m[1])
	}
	if m := reRef.FindStringSubmatch(desc); m != nil {
		d.Reference = strings.TrimRight(m[1], ".,")
	}
	if m := reMand.FindStringSubmatch(desc); m != nil {
		d.MandateNo = m[1]
	}
	if m := reVia.FindStringSubmatch(upper); m != nil {
		d.Provider = strings.TrimSpace(m[1])
		if len(m) > 2 {
			d.Variant = strings.TrimSpace(m[2])
		}
	}

	return d
}

// HasPayee reports whether extraction recovered a payee name.
func (d Details) HasPayee() bool {
	return d.Payee != ""
}
