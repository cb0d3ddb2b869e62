// Package merchant canonicalizes raw merchant strings from bank feeds.
// Raw names arrive with order-ID suffixes ("AMZN MKTP UK*AB12CD3EF"),
// location codes, and bank account references that need resolving to the
// user's friendly names before they are useful for matching or display.
package merchant

import (
	"regexp"
	"strings"
)

// Normalizer cleans raw merchant strings. Alias and account tables are
// provided at construction; a Normalizer is immutable afterwards and safe
// for concurrent use.
type Normalizer struct {
	aliases  []alias
	accounts map[string]string // "20-45-17 55512345" -> friendly name
}

type alias struct {
	token     string // uppercase substring to look for
	canonical string
}

// Known-merchant aliases applied when no user-supplied alias matches.
var defaultAliases = []alias{
	{"AMZN MKTP", "Amazon Marketplace"},
	{"AMAZON PRIME", "Amazon Prime"},
	{"AMZNBUSINESS", "Amazon Business"},
	{"AMAZON BUSINESS", "Amazon Business"},
	{"AMAZON", "Amazon"},
	{"AMZN", "Amazon"},
	{"APPLE.COM/BILL", "Apple"},
	{"ITUNES.COM", "Apple"},
	{"APPLE SERVICES", "Apple"},
	{"TESCO", "Tesco"},
	{"SAINSBURY", "Sainsbury's"},
	{"TFL TRAVEL", "Transport for London"},
}

var (
	// Trailing order references: "*AB12CD3EF", "#1234567", "REF 123-4567890".
	reOrderSuffix = regexp.MustCompile(`\s*[*#][A-Z0-9]{5,}.*$`)
	reOrderRef    = regexp.MustCompile(`(?i)\s+(?:ORDER|REF)\s+[0-9][0-9\-]{5,}$`)
	// UK sort code + account number, e.g. "20-45-17 55512345".
	reAccountRef = regexp.MustCompile(`\b\d{2}-\d{2}-\d{2}\s+\d{8}\b`)
	reSpaces     = regexp.MustCompile(`\s{2,}`)
)

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithAliases prepends user-defined aliases (raw substring -> canonical
// name). User aliases win over the built-in table.
func WithAliases(userAliases map[string]string) Option {
	return func(n *Normalizer) {
		extra := make([]alias, 0, len(userAliases))
		for token, canonical := range userAliases {
			extra = append(extra, alias{token: strings.ToUpper(token), canonical: canonical})
		}
		n.aliases = append(extra, n.aliases...)
	}
}

// WithAccountNames registers friendly names for bank account references,
// keyed by "sort-code account-number" as they appear in descriptions.
func WithAccountNames(accounts map[string]string) Option {
	return func(n *Normalizer) {
		for ref, name := range accounts {
			n.accounts[ref] = name
		}
	}
}

// NewNormalizer builds a Normalizer with the default alias table plus any
// user-supplied options.
func NewNormalizer(opts ...Option) *Normalizer {
	n := &Normalizer{
		aliases:  append([]alias(nil), defaultAliases...),
		accounts: make(map[string]string),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Clean canonicalizes a raw merchant string. Resolution order: account
// references, alias table, then generic suffix stripping.
func (n *Normalizer) Clean(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}

	// A bank-account reference names the counterparty directly.
	if ref := reAccountRef.FindString(s); ref != "" {
		if name, ok := n.accounts[ref]; ok {
			return name
		}
	}

	upper := strings.ToUpper(s)
	for _, a := range n.aliases {
		if strings.Contains(upper, a.token) {
			return a.canonical
		}
	}

	s = reOrderSuffix.ReplaceAllString(s, "")
	s = reOrderRef.ReplaceAllString(s, "")
	s = reSpaces.ReplaceAllString(s, " ")
	return titleCase(strings.TrimSpace(s))
}

// titleCase uppercases the first letter of each word, keeping short
// all-caps tokens (LTD, UK) intact.
func titleCase(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		switch strings.ToUpper(w) {
		case "LTD", "PLC", "UK", "USA":
			words[i] = strings.ToUpper(w)
		default:
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}
