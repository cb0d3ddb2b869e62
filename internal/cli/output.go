// Package cli holds console output helpers for the reconcile binary.
package cli

import (
	"fmt"
	"strings"

	"github.com/kaihaan/spendmatch/internal/application/enrich"
	"github.com/kaihaan/spendmatch/internal/application/match"
)

// PrintHeader prints the application header
func PrintHeader(mode, providerName string) {
	if providerName != "" {
		fmt.Printf("spendmatch: %s (provider: %s)\n\n", mode, providerName)
		return
	}
	fmt.Printf("spendmatch: %s\n\n", mode)
}

// PrintMatchSummary prints the matching result summary
func PrintMatchSummary(stats match.Stats) {
	fmt.Println(strings.Repeat("-", 60))
	fmt.Printf("Matching: Processed=%d Matched=%d Unmatched=%d Errors=%d\n",
		stats.Processed,
		stats.Matched,
		stats.Unmatched,
		stats.Failed)
	if stats.Processed > 0 {
		fmt.Printf("Match rate: %.1f%% (%d candidates considered)\n",
			float64(stats.Matched)/float64(stats.Processed)*100,
			stats.Candidates)
	}
}

// PrintEnrichSummary prints the enrichment result summary
func PrintEnrichSummary(stats enrich.Stats) {
	fmt.Println(strings.Repeat("-", 60))
	fmt.Printf("Enrichment: Total=%d Successful=%d Failed=%d\n",
		stats.Total,
		stats.Successful,
		stats.Failed)
	fmt.Printf("Resolution: rules=%d cache=%d api_calls=%d tokens=%d cost=$%.4f\n",
		stats.RuleHits,
		stats.CacheHits,
		stats.APICalls,
		stats.TokensUsed,
		stats.Cost)

	if len(stats.RetryQueue) > 0 {
		fmt.Println("\nQueued for retry:")
		for _, id := range stats.RetryQueue {
			fmt.Printf("  - %s\n", id)
		}
	}
}
