package lattice

import "sync"

// Commands for the Node goroutine. They are queued with the node's
// lock held and executed by Run without it.

type Cmd interface{}

type sendCmd struct {
	msg  *Msg
	dest ProcessID
}

type decideCmd struct {
	id   AgreementID
	vals ValueSet
}

type flushCmd struct {
	id AgreementID
}

// cmdQueue is an unbounded FIFO of commands. The signal channel holds
// a token whenever the queue may be non-empty.
type cmdQueue struct {
	mu     sync.Mutex
	cmds   []Cmd
	signal chan struct{}
}

func newCmdQueue() *cmdQueue {
	return &cmdQueue{signal: make(chan struct{}, 1)}
}

func (q *cmdQueue) push(cmds ...Cmd) {
	q.mu.Lock()
	q.cmds = append(q.cmds, cmds...)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *cmdQueue) take() []Cmd {
	q.mu.Lock()
	defer q.mu.Unlock()

	cmds := q.cmds
	q.cmds = nil
	return cmds
}

func (q *cmdQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.cmds)
}
