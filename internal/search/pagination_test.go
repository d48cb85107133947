package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeCount_NegativeMeansUnsetUsesDefault(t *testing.T) {
	assert.Equal(t, DefaultCount, NormalizeCount(-1))
}

func TestNormalizeCount_ZeroIsRespectedAsExplicit(t *testing.T) {
	assert.Equal(t, 0, NormalizeCount(0))
}

func TestNormalizeCount_ClampsAboveMax(t *testing.T) {
	assert.Equal(t, MaxCount, NormalizeCount(MaxCount+100))
}

func TestNormalizeCount_PassesThroughValidValue(t *testing.T) {
	assert.Equal(t, 42, NormalizeCount(42))
}

func TestCompileLimitOffset_RequestsOneExtraRow(t *testing.T) {
	b := &argBuilder{}
	clause := compileLimitOffset(b, 10, 20)
	assert.Contains(t, clause, "LIMIT")
	assert.Contains(t, clause, "OFFSET")
	assert.Equal(t, []interface{}{11, 20}, b.args)
}

func TestSplitPage_ExactCountHasNoMore(t *testing.T) {
	rows := []int{1, 2, 3}
	page, hasMore := SplitPage(rows, 3)
	assert.Equal(t, rows, page)
	assert.False(t, hasMore)
}

func TestSplitPage_ExtraRowSignalsHasMore(t *testing.T) {
	rows := []int{1, 2, 3, 4}
	page, hasMore := SplitPage(rows, 3)
	assert.Equal(t, []int{1, 2, 3}, page)
	assert.True(t, hasMore)
}

func TestSplitPage_FewerRowsThanCountHasNoMore(t *testing.T) {
	rows := []int{1}
	page, hasMore := SplitPage(rows, 3)
	assert.Equal(t, []int{1}, page)
	assert.False(t, hasMore)
}
