package lattice

import "fmt"

// Ballot is a proposer's current offer in one agreement: the round
// number and the set of values proposed in it.
type Ballot struct {
	N Round
	X ValueSet
}

// Join produces a ballot in the same round whose set also contains
// vals.
func (b Ballot) Join(vals ValueSet) Ballot {
	return Ballot{N: b.N, X: b.X.Union(vals)}
}

// Next produces the ballot for the following round.
func (b Ballot) Next() Ballot {
	return Ballot{N: b.N + 1, X: b.X}
}

func (b Ballot) String() string {
	return fmt.Sprintf("<%d,%s>", b.N, b.X)
}
