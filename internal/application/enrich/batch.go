package enrich

import (
	"strings"

	"github.com/kaihaan/spendmatch/internal/domain/ledger"
	"github.com/kaihaan/spendmatch/internal/providers"
)

// directedBatch is one provider call's worth of transactions, all sharing
// a direction. Debits and credits classify against different category
// vocabularies so they never share a prompt.
type directedBatch struct {
	direction ledger.Direction
	items     []providers.BatchItem
}

// partition splits the pending items into direction-pure batches no larger
// than the provider allows, preserving input order within each direction.
func (o *Orchestrator) partition(pending []providers.BatchItem, batchSize int) []directedBatch {
	size := batchSize
	if size <= 0 || size > o.provider.MaxBatchSize() {
		size = o.provider.MaxBatchSize()
	}
	if expensiveModel(o.provider.Model()) {
		size /= 2
	}
	if size <= 0 {
		size = 1
	}

	byDirection := make(map[ledger.Direction][]providers.BatchItem)
	var order []ledger.Direction
	for _, item := range pending {
		d := item.Transaction.Direction
		if _, seen := byDirection[d]; !seen {
			order = append(order, d)
		}
		byDirection[d] = append(byDirection[d], item)
	}

	var batches []directedBatch
	for _, d := range order {
		items := byDirection[d]
		for start := 0; start < len(items); start += size {
			end := start + size
			if end > len(items) {
				end = len(items)
			}
			batches = append(batches, directedBatch{direction: d, items: items[start:end]})
		}
	}
	return batches
}

// expensiveModel identifies the slow, high-cost model tiers that get
// half-size batches to keep per-call latency and spend bounded.
func expensiveModel(model string) bool {
	m := strings.ToLower(model)
	if strings.Contains(m, "mini") || strings.Contains(m, "flash") {
		return false
	}
	return strings.Contains(m, "pro") || strings.HasPrefix(m, "gpt-4")
}
