package aggregator

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/keyword-rank-collector/internal/ranking"
)

func ok(page int, kws ...ranking.KeywordRank) ranking.PageResult {
	return ranking.PageResult{PageNumber: page, Success: true, Keywords: kws}
}

func kw(keyword string, rank int) ranking.KeywordRank {
	return ranking.KeywordRank{Keyword: keyword, Rank: rank}
}

func TestAggregate_KeepsLowestRank(t *testing.T) {
	t.Parallel()

	got := Aggregate([]ranking.PageResult{
		ok(1, kw("shoes", 5)),
		ranking.FailedPage(2, "timeout", 0),
		ok(3, kw("shoes", 2)),
	})

	require.Equal(t, []ranking.KeywordRank{kw("shoes", 2)}, got.Keywords)
	require.Equal(t, 2, got.SuccessfulPages)
	require.Equal(t, 1, got.FailedPages)
	require.Equal(t, []string{"page 2: timeout"}, got.Errors)
}

func TestAggregate_TieKeepsEarliestPage(t *testing.T) {
	t.Parallel()

	first := ranking.KeywordRank{Keyword: "bag", Rank: 3, SearchCount: 10}
	second := ranking.KeywordRank{Keyword: "bag", Rank: 3, SearchCount: 99}

	// Completion order is reversed; the page-1 row still wins.
	got := Aggregate([]ranking.PageResult{ok(2, second), ok(1, first)})
	require.Equal(t, []ranking.KeywordRank{first}, got.Keywords)
}

func TestAggregate_SortsByRankAndIgnoresCompletionOrder(t *testing.T) {
	t.Parallel()

	inOrder := []ranking.PageResult{
		ok(1, kw("a", 3), kw("b", 1)),
		ok(2, kw("c", 2), kw("a", 4)),
		ranking.FailedPage(3, "upstream_unstable", 0),
		ok(4, kw("d", 1)),
	}
	shuffled := []ranking.PageResult{inOrder[3], inOrder[1], inOrder[2], inOrder[0]}

	want := Aggregate(inOrder)
	require.Equal(t, want, Aggregate(shuffled))

	for i := 1; i < len(want.Keywords); i++ {
		require.LessOrEqual(t, want.Keywords[i-1].Rank, want.Keywords[i].Rank)
	}
	require.Len(t, want.Keywords, 4)
	require.Equal(t, []string{"page 3: upstream_unstable"}, want.Errors)
}

func TestAggregate_AllFailed(t *testing.T) {
	t.Parallel()

	got := Aggregate([]ranking.PageResult{
		ranking.FailedPage(2, "timeout", 0),
		ranking.FailedPage(1, "upstream_unstable", 0),
	})
	require.NotNil(t, got.Keywords)
	require.Empty(t, got.Keywords)
	require.Equal(t, 0, got.SuccessfulPages)
	require.Equal(t, 2, got.FailedPages)
	require.Equal(t, []string{"page 1: upstream_unstable", "page 2: timeout"}, got.Errors)
}

func TestAggregate_CountsAddUp(t *testing.T) {
	t.Parallel()

	results := []ranking.PageResult{ok(1), ok(2), ranking.FailedPage(3, "x", 0)}
	got := Aggregate(results)
	require.Equal(t, len(results), got.SuccessfulPages+got.FailedPages)
	require.Len(t, got.Errors, got.FailedPages)
}

func TestAggregate_DoesNotMutateInput(t *testing.T) {
	t.Parallel()

	results := []ranking.PageResult{ok(2, kw("x", 1)), ok(1, kw("y", 2))}
	_ = Aggregate(results)
	require.Equal(t, 2, results[0].PageNumber)
}
