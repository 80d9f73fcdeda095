package lookup

import (
	"container/heap"
	"context"
	"math/bits"
	"sort"

	"golang.org/x/sync/errgroup"
)

// windowHeap is a bounded min-heap over ScoredTable, used to keep the top
// `limit` tables seen in one scoring window without the insertion-shift
// bookkeeping the reference implementation used (and occasionally got
// wrong at its boundaries — see DESIGN.md).
type windowHeap []ScoredTable

func (h windowHeap) Len() int            { return len(h) }
func (h windowHeap) Less(i, j int) bool  { return h[i].Score < h[j].Score }
func (h windowHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *windowHeap) Push(x any)         { *h = append(*h, x.(ScoredTable)) }
func (h *windowHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// rankWindow scores every table in the window against accounts, keeping
// the top `limit` by score and rejecting any table with score ≤
// minScorePerTable. Returned in descending score order.
func rankWindow(tables []Table, accounts []PublicKey, minScorePerTable int, limit int) []ScoredTable {
	if limit <= 0 {
		return nil
	}
	h := make(windowHeap, 0, limit)
	for _, t := range tables {
		score := scoreOf(t, accounts)
		if score <= minScorePerTable {
			continue
		}
		st := ScoredTable{Score: uint32(score), Table: t}
		switch {
		case h.Len() < limit:
			heap.Push(&h, st)
		case h[0].Score < st.Score:
			heap.Pop(&h)
			heap.Push(&h, st)
		}
	}
	if h.Len() == 0 {
		return nil
	}
	result := make([]ScoredTable, h.Len())
	copy(result, h)
	sort.SliceStable(result, func(i, j int) bool { return result[i].Score > result[j].Score })
	return result
}

// findOptimalSetOfTables runs the two-step scoring and cover described in
// the discovery index's query path: partition allTables into
// cfg.NumPartitionsPerQuery windows, rank each window in parallel, merge
// and stable-sort by score descending, then hand the merged order to the
// greedy cover.
func findOptimalSetOfTables(ctx context.Context, allTables []Table, accounts []PublicKey, cfg IndexConfig) ([]Table, error) {
	numTables := len(allTables)
	if numTables == 0 || len(accounts) == 0 {
		return nil, nil
	}

	numWindows := cfg.NumPartitionsPerQuery
	if numWindows <= 0 {
		numWindows = 1
	}
	windowSize := (numTables + numWindows - 1) / numWindows
	if windowSize <= 0 {
		windowSize = numTables
	}

	perWindow := make([][]ScoredTable, 0, numWindows)
	for from := 0; from < numTables; from += windowSize {
		perWindow = append(perWindow, nil)
	}

	g, _ := errgroup.WithContext(ctx)
	for w, from := 0, 0; from < numTables; w, from = w+1, from+windowSize {
		w, from := w, from
		to := from + windowSize
		if to > numTables {
			to = numTables
		}
		g.Go(func() error {
			perWindow[w] = rankWindow(allTables[from:to], accounts, int(cfg.MinScore), cfg.TopTablesPerPartition)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Concatenate in window order, not goroutine-completion order, so the
	// stable sort below has a deterministic input to break score ties on.
	var merged []ScoredTable
	for _, ranked := range perWindow {
		merged = append(merged, ranked...)
	}

	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	scoredTables := make([]Table, len(merged))
	for i, st := range merged {
		scoredTables[i] = st.Table
	}
	return cover(scoredTables, accounts), nil
}

// cover implements the greedy set-cover walk over scoredTables (already in
// descending score order), bounded by maxSelections and pruned with a
// 64-bit bitmask of accounts still needing coverage.
//
// The rollback on numRemoved == 1 — and the unconditional write to
// firstMaskIndex on a table's first new match — is preserved exactly as
// the reference implementation has it, including only rolling back
// totalAccountsFound and never clearing firstMaskIndex's bit from mask in
// that case. Do not "clean up" this asymmetry; a later scan may find a
// table that *does* clear that bit via its own numRemoved > 1 path.
func cover(scoredTables []Table, accounts []PublicKey) []Table {
	numAccounts := len(accounts)
	if numAccounts == 0 {
		return nil
	}
	breakOut := numAccounts - 1

	maxSelections := MaxAccounts / 2
	if len(scoredTables) < maxSelections {
		maxSelections = len(scoredTables)
	}
	if maxSelections == 0 {
		return nil
	}

	var mask uint64
	if numAccounts >= 64 {
		mask = ^uint64(0)
	} else {
		mask = ^uint64(0) >> (64 - numAccounts)
	}
	var maskIndex uint64 = 1
	var firstMaskIndex uint64

	totalAccountsFound := 0
	from := 0
	to := 64 - bits.LeadingZeros64(mask)

	selected := make([]Table, 0, maxSelections)

	for i := 0; i < maxSelections; i++ {
		table := scoredTables[i]
		numRemoved := 0
		for a := from; a < to; a++ {
			if mask&maskIndex == maskIndex && table.Contains(accounts[a]) {
				totalAccountsFound++
				if totalAccountsFound == breakOut {
					selected = append(selected, table)
					return selected
				}
				numRemoved++
				if numRemoved > 1 {
					mask ^= maskIndex
				} else {
					firstMaskIndex = maskIndex
				}
			}
			maskIndex <<= 1
		}

		if numRemoved > 1 {
			selected = append(selected, table)
			mask ^= firstMaskIndex
			maskIndex = mask & (-mask)
			from = bits.TrailingZeros64(mask)
			to = 64 - bits.LeadingZeros64(mask)
		} else if numRemoved == 1 {
			totalAccountsFound--
		}
	}

	if len(selected) == 0 {
		return nil
	}
	return selected
}
