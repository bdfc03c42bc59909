package windowing

// Stats summarizes the result of window preparation.
//
// Fields:
// - Total: estimated tokens for included items only.
// - Budget: the token budget the items had to fit in.
// - Included: number of items kept.
// - Skipped: number of items dropped from the oldest end.
// - OverBudgetNewest: true when the newest item alone does not fit.
type Stats struct {
	Total            int
	Budget           int
	Included         int
	Skipped          int
	OverBudgetNewest bool
}

// Truncated reports whether at least one item was dropped.
func (s Stats) Truncated() bool { return s.Skipped > 0 }

// PrepareSendWindow returns the longest suffix of items (oldest→newest) whose
// summed cost fits within budget.
//
// Rules:
// - Scan newest→oldest, including items while total+cost ≤ budget.
// - Stop at the first item that does not fit; older items are never
//   considered, so the window has no gaps.
// - A negative budget (fixed overhead already exceeds the limit) keeps nothing.
// - Items are never split; the returned slice aliases items.
func PrepareSendWindow[T any](items []T, budget int, cost func(T) int) ([]T, Stats) {
	if len(items) == 0 {
		return nil, Stats{Budget: budget}
	}

	total := 0
	start := len(items) // exclusive sentinel; lowered as items are included
	for i := len(items) - 1; i >= 0; i-- {
		c := cost(items[i])
		if budget < 0 || total+c > budget {
			break
		}
		total += c
		start = i
	}

	included := len(items) - start
	stats := Stats{
		Total:            total,
		Budget:           budget,
		Included:         included,
		Skipped:          start,
		OverBudgetNewest: included == 0,
	}
	if included == 0 {
		return nil, stats
	}
	return items[start:], stats
}
