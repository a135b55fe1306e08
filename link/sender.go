package link

import (
	"context"
	"sync"
	"time"

	"github.com/bobg/lattice"
)

type outgoing struct {
	msg  *lattice.Msg
	dest lattice.ProcessID
}

type retryKey struct {
	dest lattice.ProcessID
	key  lattice.MsgKey
}

// pending is an unacknowledged message.
type pending struct {
	out    outgoing
	sentAt time.Time
	queued bool // waiting in the resend queue
}

// sender owns the outbound queues and the retry set. Acks go out
// first, then resends, then new messages while the retry set has room.
type sender struct {
	l *Link

	mu       sync.Mutex
	acks     []outgoing
	resend   []outgoing
	data     []outgoing
	inflight map[retryKey]*pending
	timeout  time.Duration
	changed  time.Time // of timeout

	signal chan struct{}
}

func newSender(l *Link) *sender {
	return &sender{
		l:        l,
		inflight: make(map[retryKey]*pending),
		timeout:  l.cfg.RetryTimeout,
		changed:  time.Now(),
		signal:   make(chan struct{}, 1),
	}
}

func (s *sender) enqueue(msg *lattice.Msg, dest lattice.ProcessID) {
	s.mu.Lock()
	if msg.Kind == lattice.Ack {
		s.acks = append(s.acks, outgoing{msg: msg, dest: dest})
	} else {
		s.data = append(s.data, outgoing{msg: msg, dest: dest})
	}
	s.mu.Unlock()
	s.notify()
}

func (s *sender) notify() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *sender) next() (outgoing, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var o outgoing
	switch {
	case len(s.acks) > 0:
		o, s.acks = s.acks[0], s.acks[1:]
	case len(s.resend) > 0:
		o, s.resend = s.resend[0], s.resend[1:]
	case len(s.data) > 0 && len(s.inflight) < s.l.cfg.MaxInFlight:
		o, s.data = s.data[0], s.data[1:]
	default:
		return o, false
	}
	return o, true
}

func (s *sender) run(ctx context.Context) error {
	ticker := time.NewTicker(s.l.cfg.RetryInterval)
	defer ticker.Stop()

	for {
		for {
			o, ok := s.next()
			if !ok {
				break
			}
			s.transmit(o)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-s.signal:
		case now := <-ticker.C:
			s.sweep(now)
		}
	}
}

func (s *sender) transmit(o outgoing) {
	buf, err := o.msg.MarshalBinary()
	if err != nil {
		s.l.logger.WithField("peer", o.dest).Errorf("encoding %s: %s", o.msg, err)
		return
	}
	addr, ok := s.l.peers[o.dest]
	if !ok {
		s.l.logger.Errorf("no address for %d", o.dest)
		return
	}
	if _, err = s.l.conn.WriteTo(buf, addr); err != nil {
		// Counts as a loss: the retry set takes care of it.
		s.l.logger.WithField("peer", o.dest).Debugf("writing %s: %s", o.msg, err)
	}
	s.l.stats.sent.Add(1)

	if o.msg.Kind == lattice.Ack {
		return
	}

	k := retryKey{dest: o.dest, key: o.msg.Key()}
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.inflight[k]; ok {
		p.sentAt = now
		p.queued = false
		return
	}
	s.inflight[k] = &pending{out: o, sentAt: now}
}

// sweep drops acknowledged messages from the retry set and queues the
// overdue ones for resending. When more than half of the entries
// examined were overdue, and the timeout has not changed for at least
// one timeout period, the timeout doubles.
func (s *sender) sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var swept, overdue int
	for k, p := range s.inflight {
		if s.l.acked.Contains(k.dest, k.key) {
			delete(s.inflight, k)
			continue
		}
		swept++
		if p.queued || now.Sub(p.sentAt) < s.timeout {
			continue
		}
		overdue++
		p.queued = true
		s.resend = append(s.resend, p.out)
	}
	s.l.stats.resent.Add(uint64(overdue))

	if overdue*2 > swept && now.Sub(s.changed) >= s.timeout && s.timeout < s.l.cfg.MaxRetryTimeout {
		s.timeout *= 2
		if s.timeout > s.l.cfg.MaxRetryTimeout {
			s.timeout = s.l.cfg.MaxRetryTimeout
		}
		s.changed = now
		s.l.logger.Infof("%d of %d unacknowledged messages overdue, retry timeout now %s", overdue, swept, s.timeout)
	}
}

// forget drops unacknowledged messages about agreements up to and
// including upTo, which every process has finished. DECIDED messages
// are kept: a process may still be waiting for them to finish too.
func (s *sender) forget(upTo lattice.AgreementID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, p := range s.inflight {
		if k.key.Agreement <= upTo && k.key.Type != lattice.Decided && !p.queued {
			delete(s.inflight, k)
		}
	}
}

func (s *sender) status() (time.Duration, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.timeout, len(s.inflight)
}
