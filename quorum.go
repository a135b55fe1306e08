package lattice

// Every decision in this package needs replies from a strict majority
// of the membership. Any two majorities of the same membership
// intersect, which is what makes decided sets comparable: the process
// in the intersection accepted both, and its accepted set only grows.

// Quorum is the size of the smallest majority of n processes.
func Quorum(n int) int {
	return n/2 + 1
}

// majority tells whether count processes out of n form a majority.
func majority(count, n int) bool {
	return count >= Quorum(n)
}
