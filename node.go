package lattice

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

// Outbound is the sending side of the transport a Node runs over.
// Send must not block. Flush tells the transport that agreement upTo,
// and every one below it, is finished everywhere.
type Outbound interface {
	Send(msg *Msg, dest ProcessID) error
	Flush(upTo AgreementID)
}

// Decider receives each agreement's decided value set, once.
type Decider interface {
	Decide(id AgreementID, vals ValueSet)
}

// DeciderFunc adapts an ordinary function to the Decider interface.
type DeciderFunc func(AgreementID, ValueSet)

func (f DeciderFunc) Decide(id AgreementID, vals ValueSet) {
	f(id, vals)
}

// Node is a participant in lattice agreement.
type Node struct {
	ID      ProcessID
	Members ProcessSet

	// Pending holds the state of every tracked agreement, decided or
	// not, until it is garbage-collected.
	Pending map[AgreementID]*Agreement

	out    Outbound
	dec    Decider
	logger logrus.FieldLogger

	win       window
	decisions int
	cmds      *cmdQueue

	mu sync.Mutex
}

// Option configures a Node.
type Option func(*Node)

// WithWindow sets the number of agreements that may be in progress at
// once. The default is DefaultWindow.
func WithWindow(size int) Option {
	return func(n *Node) {
		n.win.size = size
	}
}

func WithLogger(logger logrus.FieldLogger) Option {
	return func(n *Node) {
		n.logger = logger
	}
}

// NewNode produces a new node with the given ID in a run with the
// given membership, which must include id.
func NewNode(id ProcessID, members ProcessSet, out Outbound, dec Decider, opts ...Option) (*Node, error) {
	if id == 0 || members.Contains(0) {
		return nil, ErrReservedID
	}
	if !members.Contains(id) {
		return nil, fmt.Errorf("%w: %d not in %s", ErrNotMember, id, members)
	}
	n := &Node{
		ID:      id,
		Members: members,
		Pending: make(map[AgreementID]*Agreement),
		out:     out,
		dec:     dec,
		logger:  logrus.StandardLogger(),
		win:     window{size: DefaultWindow},
		cmds:    newCmdQueue(),
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.win.size < 1 {
		return nil, fmt.Errorf("window size %d, must be at least 1", n.win.size)
	}
	n.logger = n.logger.WithField("node", id)
	return n, nil
}

var errWindowFull = errors.New("agreement window full")

// Propose starts agreement id with the given values. It returns false
// if id lies beyond the window of agreements this node will track at
// the moment; the caller should try again once earlier agreements
// have completed.
func (n *Node) Propose(id AgreementID, vals ValueSet) (bool, error) {
	if vals == nil {
		return false, ErrNilValues
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	switch n.win.admit(id) {
	case collected:
		return false, fmt.Errorf("%w: agreement %d is finished", ErrAlreadyProposed, id)
	case refuse:
		return false, nil
	}

	a := n.agreement(id)
	if a.Proposing {
		return false, fmt.Errorf("%w: agreement %d", ErrAlreadyProposed, id)
	}
	a.propose(vals)
	a.Logf("proposing %s", a.P)
	n.broadcast(Proposal, a.ID, a.P.N, a.P.X)
	return true, nil
}

// ProposeWait is like Propose but, while the window is full, keeps
// trying with exponential backoff until the proposal is admitted or
// ctx is canceled.
func (n *Node) ProposeWait(ctx context.Context, id AgreementID, vals ValueSet) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = time.Second
	b.MaxElapsedTime = 0

	return backoff.Retry(func() error {
		ok, err := n.Propose(id, vals)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			return errWindowFull
		}
		return nil
	}, backoff.WithContext(b, ctx))
}

// Deliver handles a message from the transport. It returns false if
// the message concerns an agreement beyond the window; the transport
// must then withhold its acknowledgment so that the message is
// offered again later.
func (n *Node) Deliver(msg *Msg) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	switch msg.Type {
	case Proposal:
		a, ok := n.admit(msg)
		if a == nil {
			return ok
		}
		typ, vals := a.vote(msg.Values)
		n.send(msg.Sender, typ, a.ID, msg.Round, vals)

	case AckReply, NackReply:
		a, ok := n.Pending[msg.Agreement]
		if !ok {
			n.Logf("ignoring %s for untracked agreement", msg)
			return true
		}
		if !a.reply(msg.Type, msg.Round, msg.Values) {
			a.Logf("ignoring stale %s", msg)
			return true
		}
		n.step(a)

	case Decided:
		a, ok := n.admit(msg)
		if a == nil {
			return ok
		}
		a.observeDecided(msg.Source)
		n.collect()

	default:
		n.logger.Warnf("unknown message type in %s", msg)
	}
	return true
}

// admit finds or creates the agreement msg is about. A nil result
// means msg is for a collected agreement (true) or one beyond the
// window (false).
func (n *Node) admit(msg *Msg) (*Agreement, bool) {
	switch n.win.admit(msg.Agreement) {
	case collected:
		n.Logf("ignoring %s for collected agreement", msg)
		return nil, true
	case refuse:
		n.Logf("deferring %s beyond window bottom %d", msg, n.win.bottom)
		return nil, false
	}
	return n.agreement(msg.Agreement), true
}

func (n *Node) agreement(id AgreementID) *Agreement {
	a, ok := n.Pending[id]
	if !ok {
		a = newAgreement(id, n)
		n.Pending[id] = a
	}
	return a
}

func (n *Node) step(a *Agreement) {
	switch a.step(n.Members.Len()) {
	case decide:
		n.decisions++
		n.logger.WithField("agreement", a.ID).Infof("decided %s in round %d", a.P.X, a.P.N)
		n.cmds.push(decideCmd{id: a.ID, vals: a.P.X})
		n.broadcast(Decided, a.ID, a.P.N, nil)

	case nextRound:
		a.Logf("advancing to %s", a.P)
		n.broadcast(Proposal, a.ID, a.P.N, a.P.X)
	}
}

// collect garbage-collects agreements from the bottom of the window
// for as long as they are decided everywhere.
func (n *Node) collect() {
	for {
		a, ok := n.Pending[n.win.bottom]
		if !ok || !a.collectable(n.Members.Len()) {
			return
		}
		delete(n.Pending, a.ID)
		n.win.advance()
		n.cmds.push(flushCmd{id: a.ID})
		a.Logf("collected")
	}
}

func (n *Node) send(dest ProcessID, typ Type, id AgreementID, r Round, vals ValueSet) {
	n.cmds.push(sendCmd{
		msg: &Msg{
			Sender:    n.ID,
			Source:    n.ID,
			Agreement: id,
			Round:     r,
			Type:      typ,
			Values:    vals,
		},
		dest: dest,
	})
}

func (n *Node) broadcast(typ Type, id AgreementID, r Round, vals ValueSet) {
	for _, dest := range n.Members {
		n.send(dest, typ, id, r, vals)
	}
}

// Run executes the node's queued commands until ctx is canceled:
// messages for other processes go to the Outbound, messages for n
// itself are delivered directly, decisions go to the Decider.
func (n *Node) Run(ctx context.Context) error {
	for {
		for _, cmd := range n.cmds.take() {
			n.exec(cmd)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-n.cmds.signal:
		}
	}
}

func (n *Node) exec(cmd Cmd) {
	switch cmd := cmd.(type) {
	case sendCmd:
		if cmd.dest == n.ID {
			if !n.Deliver(cmd.msg) {
				n.logger.Warnf("own message refused: %s", cmd.msg)
			}
			return
		}
		if err := n.out.Send(cmd.msg, cmd.dest); err != nil {
			n.logger.WithField("peer", cmd.dest).Errorf("sending %s: %s", cmd.msg, err)
		}

	case decideCmd:
		if n.dec != nil {
			n.dec.Decide(cmd.id, cmd.vals)
		}

	case flushCmd:
		n.out.Flush(cmd.id)
	}
}

// Status is a snapshot of a node's progress.
type Status struct {
	Bottom    AgreementID // lowest uncollected agreement
	Window    int
	Tracked   int // agreements with state
	Undecided int // tracked agreements this node has not decided
	Decisions int // agreements decided since startup
	Queued    int // commands waiting for Run
}

func (n *Node) Status() Status {
	n.mu.Lock()
	defer n.mu.Unlock()

	s := Status{
		Bottom:    n.win.bottom,
		Window:    n.win.size,
		Tracked:   len(n.Pending),
		Decisions: n.decisions,
		Queued:    n.cmds.len(),
	}
	for _, a := range n.Pending {
		if !a.Decided {
			s.Undecided++
		}
	}
	return s
}

func (n *Node) Logf(f string, a ...interface{}) {
	n.logger.Debugf(f, a...)
}
