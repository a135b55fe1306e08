package lattice

import (
	"errors"
	"fmt"
	"reflect"
	"testing"
)

func TestMajority(t *testing.T) {
	cases := []struct {
		n, count int
		want     bool
	}{
		{n: 1, count: 0, want: false},
		{n: 1, count: 1, want: true},
		{n: 2, count: 1, want: false},
		{n: 2, count: 2, want: true},
		{n: 3, count: 1, want: false},
		{n: 3, count: 2, want: true},
		{n: 4, count: 2, want: false},
		{n: 4, count: 3, want: true},
		{n: 5, count: 3, want: true},
	}
	for i, tc := range cases {
		t.Run(fmt.Sprintf("%02d", i+1), func(t *testing.T) {
			if got := majority(tc.count, tc.n); got != tc.want {
				t.Errorf("got majority(%d, %d) = %v, want %v", tc.count, tc.n, got, tc.want)
			}
			if got := tc.count >= Quorum(tc.n); got != tc.want {
				t.Errorf("Quorum(%d) = %d disagrees with majority", tc.n, Quorum(tc.n))
			}
		})
	}
}

func TestProcessSet(t *testing.T) {
	cases := []struct {
		ids     []ProcessID
		want    ProcessSet
		wantErr error
	}{
		{},
		{
			ids:  []ProcessID{3, 1, 2, 1},
			want: ProcessSet{1, 2, 3},
		},
		{
			ids:     []ProcessID{1, 0},
			wantErr: ErrReservedID,
		},
	}
	for i, tc := range cases {
		t.Run(fmt.Sprintf("%02d", i+1), func(t *testing.T) {
			got, err := NewProcessSet(tc.ids...)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("got error %v, want %v", err, tc.wantErr)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("got %v, want %v", got, tc.want)
			}
			for _, id := range tc.want {
				if !got.Contains(id) {
					t.Errorf("%v does not contain %d", got, id)
				}
			}
			if got.Contains(4) {
				t.Errorf("%v contains 4", got)
			}
		})
	}
}
