// Package shard spreads one user's queued writes across independent queues.
package shard

import "unicode/utf16"

// Router maps user identifiers to one of Count shards.
// It carries its configuration explicitly so callers never read globals.
type Router struct {
	Count int
}

// NewRouter returns a router with at least one shard.
func NewRouter(count int) Router {
	if count < 1 {
		count = 1
	}
	return Router{Count: count}
}

// Shard sums the UTF-16 code units of userID and reduces the absolute value
// modulo the shard count, so characters outside the BMP count as their two
// surrogate halves. The same id always lands on the same shard.
func (r Router) Shard(userID string) int {
	n := r.Count
	if n < 1 {
		n = 1
	}

	var sum int64
	for _, unit := range utf16.Encode([]rune(userID)) {
		sum += int64(unit)
	}
	if sum < 0 {
		sum = -sum
	}
	return int(sum % int64(n))
}
