package main

import (
	"bufio"
	"io"
	"sync"

	"github.com/bobg/lattice"
)

// output is the process's decision log. Decisions arrive in any order
// but are written in agreement order, line i holding the set decided
// for agreement i, so only a contiguous prefix is ever written.
type output struct {
	mu      sync.Mutex
	w       *bufio.Writer
	decided map[lattice.AgreementID]lattice.ValueSet
	next    lattice.AgreementID
}

func newOutput(w io.Writer) *output {
	return &output{
		w:       bufio.NewWriter(w),
		decided: make(map[lattice.AgreementID]lattice.ValueSet),
	}
}

func (o *output) Decide(id lattice.AgreementID, vals lattice.ValueSet) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if id >= o.next {
		o.decided[id] = vals
	}
}

// flush writes every decision it can and returns the number of lines
// written in total.
func (o *output) flush() (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for {
		vals, ok := o.decided[o.next]
		if !ok {
			break
		}
		if _, err := o.w.WriteString(vals.Fields() + "\n"); err != nil {
			return int(o.next), err
		}
		delete(o.decided, o.next)
		o.next++
	}
	return int(o.next), o.w.Flush()
}
