// Package rules implements the deterministic consistency layer that runs
// before any model call. Ordered pattern rules resolve a transaction's
// category and merchant outright when they can, and seed the classifier
// with a merchant hint when they only partially apply.
package rules

import (
	"log/slog"
	"regexp"
	"sort"
	"strings"
)

// PatternType selects how a rule pattern is compared against text.
type PatternType string

const (
	PatternContains   PatternType = "contains"
	PatternStartsWith PatternType = "starts_with"
	PatternExact      PatternType = "exact"
	PatternRegex      PatternType = "regex"
)

// SourceDirectDebit marks normalizations keyed by structured payee
// extraction rather than full-description matching.
const SourceDirectDebit = "direct_debit"

// CategoryRule assigns a category when its pattern matches a transaction
// description. Rules are evaluated highest priority first.
type CategoryRule struct {
	ID           int64
	Pattern      string
	PatternType  PatternType
	Category     string
	Subcategory  string
	MerchantName string
	Priority     int
	Active       bool
	UseCount     int
}

// MerchantNormalization maps a description or payee pattern to a clean
// merchant identity with a default category.
type MerchantNormalization struct {
	ID              int64
	Pattern         string
	PatternType     PatternType
	NormalizedName  string
	MerchantType    string
	DefaultCategory string
	Source          string // "direct_debit" rules match extracted payees
	Priority        int
	Active          bool
	UseCount        int
}

// defaultEssentialCategories is the fallback used when no configured set
// is supplied.
var defaultEssentialCategories = []string{
	"Groceries",
	"Utilities",
	"Housing",
	"Rent",
	"Mortgage",
	"Insurance",
	"Healthcare",
	"Transport",
	"Childcare",
	"Council Tax",
}

// RuleSet is an immutable snapshot of the active rules, built once per job
// invocation and passed by parameter. Building a fresh value per job avoids
// the stale shared-index problem entirely.
type RuleSet struct {
	categoryRules  []CategoryRule
	normalizations []MerchantNormalization
	essential      map[string]struct{}
	logger         *slog.Logger
	regexCache     map[string]*regexp.Regexp
}

// NewRuleSet builds a RuleSet from active rules. Inactive rules are
// dropped; category rules sort by descending priority with insertion order
// preserved within equal priority. Passing nil essentialCategories selects
// the built-in default list. Invalid regex patterns are compiled eagerly,
// logged, and excluded so evaluation never has to handle them.
func NewRuleSet(
	categoryRules []CategoryRule,
	normalizations []MerchantNormalization,
	essentialCategories []string,
	logger *slog.Logger,
) *RuleSet {
	if logger == nil {
		logger = slog.Default()
	}
	if essentialCategories == nil {
		essentialCategories = defaultEssentialCategories
	}

	rs := &RuleSet{
		logger:     logger,
		essential:  make(map[string]struct{}, len(essentialCategories)),
		regexCache: make(map[string]*regexp.Regexp),
	}
	for _, c := range essentialCategories {
		rs.essential[strings.ToLower(c)] = struct{}{}
	}

	for _, r := range categoryRules {
		if !r.Active {
			continue
		}
		if !rs.compileIfRegex(r.Pattern, r.PatternType) {
			logger.Warn("skipping category rule with invalid regex",
				"rule_id", r.ID, "pattern", r.Pattern)
			continue
		}
		rs.categoryRules = append(rs.categoryRules, r)
	}
	sort.SliceStable(rs.categoryRules, func(i, j int) bool {
		return rs.categoryRules[i].Priority > rs.categoryRules[j].Priority
	})

	for _, n := range normalizations {
		if !n.Active {
			continue
		}
		if !rs.compileIfRegex(n.Pattern, n.PatternType) {
			logger.Warn("skipping merchant normalization with invalid regex",
				"normalization_id", n.ID, "pattern", n.Pattern)
			continue
		}
		rs.normalizations = append(rs.normalizations, n)
	}
	sort.SliceStable(rs.normalizations, func(i, j int) bool {
		return rs.normalizations[i].Priority > rs.normalizations[j].Priority
	})

	return rs
}

// compileIfRegex caches a case-insensitive compile for regex patterns and
// reports whether the pattern is usable.
func (rs *RuleSet) compileIfRegex(pattern string, pt PatternType) bool {
	if pt != PatternRegex {
		return true
	}
	if _, ok := rs.regexCache[pattern]; ok {
		return true
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return false
	}
	rs.regexCache[pattern] = re
	return true
}

// IsEssential reports whether a category is in the essential set.
func (rs *RuleSet) IsEssential(category string) bool {
	_, ok := rs.essential[strings.ToLower(category)]
	return ok
}

// matches compares text against a pattern. All comparisons are
// case-insensitive.
func (rs *RuleSet) matches(text, pattern string, pt PatternType) bool {
	lt := strings.ToLower(text)
	lp := strings.ToLower(pattern)
	switch pt {
	case PatternContains:
		return strings.Contains(lt, lp)
	case PatternStartsWith:
		return strings.HasPrefix(lt, lp)
	case PatternExact:
		return lt == lp
	case PatternRegex:
		re, ok := rs.regexCache[pattern]
		return ok && re.MatchString(text)
	default:
		return false
	}
}
