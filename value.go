package lattice

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ValueSet is a set of proposed values, implemented as a sorted slice
// without duplicates. The set-union join makes ValueSets a lattice.
//
// Methods never modify the receiver's backing array, so a ValueSet may
// be shared freely once built.
type ValueSet []int32

// NewValueSet builds a ValueSet from vals in any order, dropping
// duplicates. The result is never nil.
func NewValueSet(vals ...int32) ValueSet {
	result := make(ValueSet, len(vals))
	copy(result, vals)
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	var to int
	for from := 0; from < len(result); from++ {
		if from > 0 && result[from] == result[to-1] {
			continue
		}
		result[to] = result[from]
		to++
	}
	return result[:to]
}

// Add produces a ValueSet containing the members of vs plus v.
func (vs ValueSet) Add(v int32) ValueSet {
	i := sort.Search(len(vs), func(i int) bool { return vs[i] >= v })
	if i < len(vs) && vs[i] == v {
		return vs
	}
	result := make(ValueSet, 0, len(vs)+1)
	result = append(result, vs[:i]...)
	result = append(result, v)
	result = append(result, vs[i:]...)
	return result
}

// Union produces the join of vs and other.
func (vs ValueSet) Union(other ValueSet) ValueSet {
	if len(other) == 0 {
		return vs
	}
	if len(vs) == 0 {
		return other
	}
	result := make(ValueSet, 0, len(vs)+len(other))
	var i, j int
	for i < len(vs) && j < len(other) {
		switch {
		case vs[i] < other[j]:
			result = append(result, vs[i])
			i++
		case other[j] < vs[i]:
			result = append(result, other[j])
			j++
		default:
			result = append(result, vs[i])
			i++
			j++
		}
	}
	result = append(result, vs[i:]...)
	result = append(result, other[j:]...)
	return result
}

// Contains uses binary search to test whether vs contains v.
func (vs ValueSet) Contains(v int32) bool {
	i := sort.Search(len(vs), func(i int) bool { return vs[i] >= v })
	return i < len(vs) && vs[i] == v
}

// SubsetOf tells whether every member of vs is also in other.
func (vs ValueSet) SubsetOf(other ValueSet) bool {
	if len(vs) > len(other) {
		return false
	}
	var j int
	for _, v := range vs {
		for j < len(other) && other[j] < v {
			j++
		}
		if j == len(other) || other[j] != v {
			return false
		}
		j++
	}
	return true
}

// Equal tells whether vs and other have the same members.
func (vs ValueSet) Equal(other ValueSet) bool {
	return len(vs) == len(other) && vs.SubsetOf(other)
}

// valid tells whether vs is strictly increasing, i.e. a well-formed
// set. Decoded sets are checked with it.
func (vs ValueSet) valid() bool {
	for i := 1; i < len(vs); i++ {
		if vs[i-1] >= vs[i] {
			return false
		}
	}
	return true
}

// Fields renders the set as space-separated decimal values, the format
// of one line of a process's output log.
func (vs ValueSet) Fields() string {
	strs := make([]string, 0, len(vs))
	for _, v := range vs {
		strs = append(strs, strconv.Itoa(int(v)))
	}
	return strings.Join(strs, " ")
}

func (vs ValueSet) String() string {
	return fmt.Sprintf("[%s]", vs.Fields())
}
