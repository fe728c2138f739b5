// Package aggregator folds per-page results into one ranked keyword list.
package aggregator

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/JakeFAU/keyword-rank-collector/internal/ranking"
)

// Result is the merged view of one run's page results.
type Result struct {
	Keywords        []ranking.KeywordRank
	SuccessfulPages int
	FailedPages     int
	Errors          []string
}

// Aggregate counts outcomes, collects "page N: error" lines, keeps the best
// (lowest) rank per keyword and sorts the survivors by rank. Results are
// walked in page order, so ties resolve to the earliest page regardless of
// completion order.
func Aggregate(results []ranking.PageResult) Result {
	ordered := slices.Clone(results)
	slices.SortStableFunc(ordered, func(a, b ranking.PageResult) int {
		return cmp.Compare(a.PageNumber, b.PageNumber)
	})

	out := Result{
		Keywords: []ranking.KeywordRank{},
		Errors:   []string{},
	}
	best := make(map[string]int)
	for _, res := range ordered {
		if !res.Success {
			out.FailedPages++
			out.Errors = append(out.Errors, fmt.Sprintf("page %d: %s", res.PageNumber, res.Error))
			continue
		}
		out.SuccessfulPages++
		for _, kw := range res.Keywords {
			idx, seen := best[kw.Keyword]
			if !seen {
				best[kw.Keyword] = len(out.Keywords)
				out.Keywords = append(out.Keywords, kw)
				continue
			}
			if kw.Rank < out.Keywords[idx].Rank {
				out.Keywords[idx] = kw
			}
		}
	}

	slices.SortStableFunc(out.Keywords, func(a, b ranking.KeywordRank) int {
		return cmp.Compare(a.Rank, b.Rank)
	})
	return out
}
