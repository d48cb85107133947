package search

import "fmt"

// DefaultCount is the page size used when a query omits _count.
const DefaultCount = 10

// MaxCount bounds _count regardless of what the client requests.
const MaxCount = 500

// NormalizeCount clamps a requested _count into [0, MaxCount], substituting
// DefaultCount when none was supplied (c < 0 signals "not set" from the
// parser, since 0 is itself a valid, if unusual, requested count).
func NormalizeCount(c int) int {
	if c < 0 {
		return DefaultCount
	}
	if c > MaxCount {
		return MaxCount
	}
	return c
}

// compileLimitOffset renders the LIMIT/OFFSET clause. It requests count+1
// rows so the caller can detect has_more without a second round trip
// (§4.4.7/§8: "request count+1 rows to detect has_more").
func compileLimitOffset(b *argBuilder, count, offset int) string {
	return fmt.Sprintf("LIMIT %s OFFSET %s", b.bind(count+1), b.bind(offset))
}

// SplitPage trims an over-fetched row slice back down to count entries and
// reports whether more rows exist beyond this page.
func SplitPage[T any](rows []T, count int) (page []T, hasMore bool) {
	if len(rows) > count {
		return rows[:count], true
	}
	return rows, false
}
