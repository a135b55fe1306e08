package lattice

// Agreement holds a node's state for one lattice agreement instance.
// A node plays two roles in every instance it tracks: proposer (once
// it has proposed) and acceptor (whenever a PROPOSAL arrives).
//
// Agreements are only touched with the owning Node's lock held.
type Agreement struct {
	ID AgreementID
	V  *Node

	Proposing bool // Propose was called for this instance
	Active    bool // proposing and not yet decided
	Decided   bool

	P           Ballot     // current round and proposed values
	Accepted    ValueSet   // acceptor role
	Acks, Nacks int        // replies counted in round P.N
	DecidedFrom ProcessSet // processes known to have decided
}

// outcome is what a proposer must do after counting a reply.
type outcome int

const (
	wait outcome = iota
	decide
	nextRound
)

func newAgreement(id AgreementID, n *Node) *Agreement {
	return &Agreement{ID: id, V: n}
}

func (a *Agreement) propose(vals ValueSet) {
	a.Proposing = true
	a.Active = true
	a.P = Ballot{X: vals}
	a.Acks, a.Nacks = 0, 0
}

// vote applies the acceptor rule to a PROPOSAL carrying vals. If
// everything accepted so far is in vals, vals becomes the accepted set
// and the reply is ACK. Otherwise vals is joined into the accepted
// set, and the reply is NACK carrying the result.
func (a *Agreement) vote(vals ValueSet) (Type, ValueSet) {
	if a.Accepted.SubsetOf(vals) {
		a.Accepted = vals
		return AckReply, nil
	}
	a.Accepted = a.Accepted.Union(vals)
	return NackReply, a.Accepted
}

// reply counts an ACK or NACK for round r. Replies to earlier rounds,
// or arriving when no proposal is in progress, are not counted.
func (a *Agreement) reply(typ Type, r Round, vals ValueSet) bool {
	if !a.Active || r != a.P.N {
		return false
	}
	switch typ {
	case AckReply:
		a.Acks++
	case NackReply:
		a.Nacks++
		a.P = a.P.Join(vals)
	default:
		return false
	}
	return true
}

// step evaluates the proposer's counters against a membership of n
// processes, updating the state for a decision or a new round.
func (a *Agreement) step(n int) outcome {
	if !a.Active {
		return wait
	}
	if majority(a.Acks, n) {
		a.Active = false
		a.Decided = true
		return decide
	}
	if a.Nacks > 0 && majority(a.Acks+a.Nacks, n) {
		a.P = a.P.Next()
		a.Acks, a.Nacks = 0, 0
		return nextRound
	}
	return wait
}

func (a *Agreement) observeDecided(from ProcessID) {
	a.DecidedFrom = a.DecidedFrom.Add(from)
}

// collectable tells whether every one of n processes, including this
// one, has decided the instance.
func (a *Agreement) collectable(n int) bool {
	return a.Decided && a.DecidedFrom.Len() >= n
}

func (a *Agreement) Logf(f string, args ...interface{}) {
	a.V.logger.WithField("agreement", a.ID).Debugf(f, args...)
}
