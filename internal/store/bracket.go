package store

// nextRoundPairs pairs winners two by two in bracket order. Fields are
// powers of two, so an odd trailing winner only appears on corrupted
// brackets; it is left out rather than paired against itself.
func nextRoundPairs(winners []int64) [][2]int64 {
	pairs := make([][2]int64, 0, len(winners)/2)
	for i := 0; i+1 < len(winners); i += 2 {
		pairs = append(pairs, [2]int64{winners[i], winners[i+1]})
	}
	return pairs
}
