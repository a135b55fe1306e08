package lattice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/sirupsen/logrus"
)

var dumper = spew.ConfigState{Indent: "  ", MaxDepth: 3, DisablePointerAddresses: true}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type envelope struct {
	msg  *Msg
	dest ProcessID
}

// sim drives a set of nodes deterministically, without Run: it drains
// their command queues itself and delivers one message at a time.
// Messages a node sends to itself jump the queue.
type sim struct {
	ids     ProcessSet
	nodes   map[ProcessID]*Node
	queue   []envelope
	crashed map[ProcessID]bool
	decided map[ProcessID]map[AgreementID]ValueSet
	flushed map[ProcessID][]AgreementID
}

func newSim(t *testing.T, n int, opts ...Option) *sim {
	s := &sim{
		nodes:   make(map[ProcessID]*Node),
		crashed: make(map[ProcessID]bool),
		decided: make(map[ProcessID]map[AgreementID]ValueSet),
		flushed: make(map[ProcessID][]AgreementID),
	}
	for i := 1; i <= n; i++ {
		s.ids = s.ids.Add(ProcessID(i))
	}
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	for _, id := range s.ids {
		node, err := NewNode(id, s.ids, nil, nil, opts...)
		if err != nil {
			t.Fatal(err)
		}
		s.nodes[id] = node
		s.decided[id] = make(map[AgreementID]ValueSet)
	}
	return s
}

func (s *sim) gather(t *testing.T) {
	for _, id := range s.ids {
		var local []envelope
		for _, cmd := range s.nodes[id].cmds.take() {
			if s.crashed[id] {
				continue
			}
			switch cmd := cmd.(type) {
			case sendCmd:
				e := envelope{msg: cmd.msg, dest: cmd.dest}
				if cmd.dest == id {
					local = append(local, e)
				} else {
					s.queue = append(s.queue, e)
				}
			case decideCmd:
				if prev, ok := s.decided[id][cmd.id]; ok {
					t.Errorf("node %d decided agreement %d twice: %s then %s", id, cmd.id, prev, cmd.vals)
				}
				s.decided[id][cmd.id] = cmd.vals
			case flushCmd:
				s.flushed[id] = append(s.flushed[id], cmd.id)
			}
		}
		s.queue = append(local, s.queue...)
	}
}

// run delivers messages until none are left. Refused messages go to
// the back of the queue.
func (s *sim) run(t *testing.T) {
	for i := 0; i < 100000; i++ {
		s.gather(t)
		if len(s.queue) == 0 {
			return
		}
		e := s.queue[0]
		s.queue = s.queue[1:]
		if s.crashed[e.dest] {
			continue
		}
		if !s.nodes[e.dest].Deliver(e.msg) {
			s.queue = append(s.queue, e)
		}
	}
	t.Fatalf("still delivering after 100000 messages; queue:\n%s", dumper.Sdump(s.queue))
}

func (s *sim) propose(t *testing.T, id ProcessID, a AgreementID, vals ...int32) {
	ok, err := s.nodes[id].Propose(a, NewValueSet(vals...))
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatalf("node %d: agreement %d not admitted", id, a)
	}
}

// checkDecisions tests that the decided sets for agreement a are
// pairwise comparable.
func (s *sim) checkDecisions(t *testing.T, a AgreementID) {
	var sets []ValueSet
	for _, id := range s.ids {
		if vals, ok := s.decided[id][a]; ok {
			sets = append(sets, vals)
		}
	}
	for i := 0; i < len(sets); i++ {
		for j := i + 1; j < len(sets); j++ {
			if !sets[i].SubsetOf(sets[j]) && !sets[j].SubsetOf(sets[i]) {
				t.Errorf("agreement %d: incomparable decisions %s and %s", a, sets[i], sets[j])
			}
		}
	}
}

func TestNewNode(t *testing.T) {
	members := ProcessSet{1, 2, 3}
	cases := []struct {
		id      ProcessID
		members ProcessSet
		opts    []Option
		wantErr error
	}{
		{id: 1, members: members},
		{id: 0, members: members, wantErr: ErrReservedID},
		{id: 4, members: members, wantErr: ErrNotMember},
		{id: 1, members: ProcessSet{0, 1}, wantErr: ErrReservedID},
		{id: 1, members: members, opts: []Option{WithWindow(0)}},
	}
	for i, tc := range cases {
		t.Run(fmt.Sprintf("%02d", i+1), func(t *testing.T) {
			n, err := NewNode(tc.id, tc.members, nil, nil, tc.opts...)
			if len(tc.opts) > 0 {
				if err == nil {
					t.Error("got no error for a zero window")
				}
				return
			}
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("got error %v, want %v", err, tc.wantErr)
			}
			if err == nil && n.Status().Window != DefaultWindow {
				t.Errorf("got window %d, want %d", n.Status().Window, DefaultWindow)
			}
		})
	}
}

func TestPropose(t *testing.T) {
	s := newSim(t, 1, WithWindow(2))
	n := s.nodes[1]

	if _, err := n.Propose(0, nil); !errors.Is(err, ErrNilValues) {
		t.Errorf("got error %v, want ErrNilValues", err)
	}
	s.propose(t, 1, 0, 1)
	if _, err := n.Propose(0, ValueSet{2}); !errors.Is(err, ErrAlreadyProposed) {
		t.Errorf("got error %v, want ErrAlreadyProposed", err)
	}
	s.propose(t, 1, 1, 2)
	ok, err := n.Propose(2, ValueSet{3})
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("agreement 2 admitted with a full window")
	}
	if st := n.Status(); st.Undecided != 2 {
		t.Errorf("got %d undecided, want 2", st.Undecided)
	}

	s.run(t)

	want := map[AgreementID]ValueSet{0: {1}, 1: {2}}
	if !reflect.DeepEqual(s.decided[1], want) {
		t.Errorf("got decisions %v, want %v", s.decided[1], want)
	}
	if !reflect.DeepEqual(s.flushed[1], []AgreementID{0, 1}) {
		t.Errorf("got flushes %v, want [0 1]", s.flushed[1])
	}
	st := n.Status()
	if st.Bottom != 2 || st.Tracked != 0 || st.Decisions != 2 {
		t.Errorf("unexpected status after collection: %+v", st)
	}

	if _, err := n.Propose(0, ValueSet{4}); !errors.Is(err, ErrAlreadyProposed) {
		t.Errorf("got error %v for collected agreement, want ErrAlreadyProposed", err)
	}
	s.propose(t, 1, 2, 3)
}

func TestThreeProposers(t *testing.T) {
	s := newSim(t, 3)
	s.propose(t, 1, 0, 1, 2)
	s.propose(t, 2, 0, 2, 3)
	s.propose(t, 3, 0, 1)
	s.run(t)

	want := ValueSet{1, 2, 3}
	for _, id := range s.ids {
		got, ok := s.decided[id][0]
		if !ok {
			t.Errorf("node %d did not decide", id)
			continue
		}
		if !got.Equal(want) {
			t.Errorf("node %d decided %s, want %s", id, got, want)
		}
	}
	for _, id := range s.ids {
		if st := s.nodes[id].Status(); st.Bottom != 1 || st.Tracked != 0 {
			t.Errorf("node %d not collected: %+v\n%s", id, st, dumper.Sdump(s.nodes[id].Pending))
		}
		if !reflect.DeepEqual(s.flushed[id], []AgreementID{0}) {
			t.Errorf("node %d: got flushes %v, want [0]", id, s.flushed[id])
		}
	}
}

func TestCrashAfterBroadcast(t *testing.T) {
	s := newSim(t, 3)
	s.propose(t, 3, 7, 5)
	s.gather(t)
	s.crashed[3] = true

	s.propose(t, 1, 7, 1)
	s.propose(t, 2, 7, 2)
	s.run(t)

	for _, id := range []ProcessID{1, 2} {
		got, ok := s.decided[id][7]
		if !ok {
			t.Fatalf("node %d did not decide\n%s", id, dumper.Sdump(s.nodes[id].Pending))
		}
		if !got.Contains(int32(id)) {
			t.Errorf("node %d decided %s, missing its own value", id, got)
		}
		if !got.Contains(5) {
			t.Errorf("node %d decided %s, missing the crashed process's value", id, got)
		}
	}
	s.checkDecisions(t, 7)

	// Process 3 never says DECIDED, so nothing is collected.
	for _, id := range []ProcessID{1, 2} {
		if len(s.flushed[id]) != 0 {
			t.Errorf("node %d flushed %v", id, s.flushed[id])
		}
	}
}

func TestDeliverWindow(t *testing.T) {
	s := newSim(t, 2, WithWindow(1))
	n := s.nodes[2]

	ahead := &Msg{Sender: 1, Source: 1, Agreement: 1, Type: Proposal, Values: ValueSet{1}}
	if n.Deliver(ahead) {
		t.Error("proposal beyond the window was accepted")
	}
	if st := n.Status(); st.Tracked != 0 {
		t.Errorf("refused proposal created state: %+v", st)
	}

	s.propose(t, 1, 0, 1)
	s.propose(t, 2, 0, 2)
	s.run(t)

	if st := n.Status(); st.Bottom != 1 {
		t.Fatalf("got bottom %d, want 1", st.Bottom)
	}
	if !n.Deliver(ahead) {
		t.Error("proposal inside the window was refused")
	}
	old := &Msg{Sender: 1, Source: 1, Agreement: 0, Type: Proposal, Values: ValueSet{1}}
	if !n.Deliver(old) {
		t.Error("proposal for a collected agreement was refused")
	}
	if _, ok := n.Pending[0]; ok {
		t.Error("proposal for a collected agreement recreated its state")
	}
}

func TestStaleReplies(t *testing.T) {
	s := newSim(t, 3)
	n := s.nodes[1]
	s.propose(t, 1, 0, 1)

	stale := &Msg{Sender: 2, Source: 2, Agreement: 0, Round: 3, Type: AckReply}
	untracked := &Msg{Sender: 2, Source: 2, Agreement: 5, Type: NackReply, Values: ValueSet{9}}
	for _, msg := range []*Msg{stale, untracked} {
		if !n.Deliver(msg) {
			t.Errorf("%s refused", msg)
		}
	}
	a := n.Pending[0]
	if a.Acks != 0 || a.Nacks != 0 {
		t.Errorf("stale reply counted:\n%s", dumper.Sdump(a))
	}
	if _, ok := n.Pending[5]; ok {
		t.Error("reply created agreement state")
	}
}

// directNet delivers each message on its own goroutine after a random
// delay, retrying refused ones.
type directNet struct {
	mu      sync.Mutex
	nodes   map[ProcessID]*Node
	flushed map[ProcessID]AgreementID
}

type netOut struct {
	net  *directNet
	self ProcessID
}

func (o netOut) Send(msg *Msg, dest ProcessID) error {
	o.net.mu.Lock()
	node, ok := o.net.nodes[dest]
	o.net.mu.Unlock()
	if !ok {
		return ErrUnknownPeer
	}
	go func() {
		for {
			time.Sleep(time.Duration(rand.Intn(500)) * time.Microsecond)
			if node.Deliver(msg) {
				return
			}
		}
	}()
	return nil
}

func (o netOut) Flush(upTo AgreementID) {
	o.net.mu.Lock()
	o.net.flushed[o.self] = upTo
	o.net.mu.Unlock()
}

func TestRun(t *testing.T) {
	const (
		nproc  = 4
		nagree = 20
	)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	net := &directNet{
		nodes:   make(map[ProcessID]*Node),
		flushed: make(map[ProcessID]AgreementID),
	}
	var members ProcessSet
	for i := 1; i <= nproc; i++ {
		members = members.Add(ProcessID(i))
	}

	var (
		mu      sync.Mutex
		decided = make(map[ProcessID]map[AgreementID]ValueSet)
		done    = make(chan struct{})
		count   int
	)
	for _, id := range members {
		id := id
		decided[id] = make(map[AgreementID]ValueSet)
		dec := DeciderFunc(func(a AgreementID, vals ValueSet) {
			mu.Lock()
			defer mu.Unlock()
			decided[id][a] = vals
			count++
			if count == nproc*nagree {
				close(done)
			}
		})
		node, err := NewNode(id, members, netOut{net: net, self: id}, dec, WithWindow(4), WithLogger(quietLogger()))
		if err != nil {
			t.Fatal(err)
		}
		net.nodes[id] = node
	}

	var wg sync.WaitGroup
	for _, node := range net.nodes {
		node := node
		wg.Add(2)
		go func() {
			defer wg.Done()
			node.Run(ctx)
		}()
		go func() {
			defer wg.Done()
			for a := AgreementID(0); a < nagree; a++ {
				vals := NewValueSet(int32(node.ID)*100+int32(a), int32(a))
				if err := node.ProposeWait(ctx, a, vals); err != nil {
					t.Errorf("node %d: proposing %d: %s", node.ID, a, err)
					return
				}
			}
		}()
	}

	select {
	case <-done:
	case <-ctx.Done():
		mu.Lock()
		defer mu.Unlock()
		t.Fatalf("timed out with %d of %d decisions", count, nproc*nagree)
	}
	cancel()
	wg.Wait()

	for a := AgreementID(0); a < nagree; a++ {
		var sets []ValueSet
		for _, id := range members {
			vals := decided[id][a]
			if !vals.Contains(int32(id)*100 + int32(a)) {
				t.Errorf("node %d decided %s for %d, missing its own value", id, vals, a)
			}
			sets = append(sets, vals)
		}
		for i := range sets {
			for j := i + 1; j < len(sets); j++ {
				if !sets[i].SubsetOf(sets[j]) && !sets[j].SubsetOf(sets[i]) {
					t.Errorf("agreement %d: incomparable decisions %s and %s", a, sets[i], sets[j])
				}
			}
		}
	}
}

func TestProposeWaitCanceled(t *testing.T) {
	n, err := NewNode(1, ProcessSet{1, 2}, nil, nil, WithWindow(1), WithLogger(quietLogger()))
	if err != nil {
		t.Fatal(err)
	}
	if ok, err := n.Propose(0, ValueSet{1}); err != nil || !ok {
		t.Fatalf("got %v, %v proposing 0", ok, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = n.ProposeWait(ctx, 1, ValueSet{2})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("got error %v, want context.DeadlineExceeded", err)
	}
	if err = n.ProposeWait(context.Background(), 0, ValueSet{3}); !errors.Is(err, ErrAlreadyProposed) {
		t.Errorf("got error %v, want ErrAlreadyProposed", err)
	}
}
