package lattice

import (
	"fmt"
	"sort"
)

// ProcessSet is the membership of a run: a set of process IDs,
// implemented as a sorted slice without duplicates.
type ProcessSet []ProcessID

// NewProcessSet builds a ProcessSet from ids in any order. It fails on
// the reserved ID zero.
func NewProcessSet(ids ...ProcessID) (ProcessSet, error) {
	var result ProcessSet
	for _, id := range ids {
		if id == 0 {
			return nil, ErrReservedID
		}
		result = result.Add(id)
	}
	return result, nil
}

// Add produces a ProcessSet containing the members of ps plus id.
func (ps ProcessSet) Add(id ProcessID) ProcessSet {
	i := sort.Search(len(ps), func(i int) bool { return ps[i] >= id })
	if i < len(ps) && ps[i] == id {
		return ps
	}
	result := make(ProcessSet, 0, len(ps)+1)
	result = append(result, ps[:i]...)
	result = append(result, id)
	return append(result, ps[i:]...)
}

func (ps ProcessSet) Contains(id ProcessID) bool {
	i := sort.Search(len(ps), func(i int) bool { return ps[i] >= id })
	return i < len(ps) && ps[i] == id
}

func (ps ProcessSet) Len() int {
	return len(ps)
}

func (ps ProcessSet) String() string {
	return fmt.Sprint([]ProcessID(ps))
}
