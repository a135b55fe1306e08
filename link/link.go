// Package link is a "perfect link" over UDP: reliable point-to-point
// delivery of lattice messages between a fixed set of processes.
//
// Every message is retransmitted until the destination acknowledges
// it, and delivered at the destination at most once. Message identity
// is the source process plus the message's lattice.MsgKey, so state is
// kept per agreement and freed by Flush once an agreement is finished
// everywhere.
package link

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/bobg/lattice"
)

// Deliverer receives the messages a Link delivers. Returning false
// refuses the message for now: it is not acknowledged, so the sender
// offers it again.
type Deliverer interface {
	Deliver(msg *lattice.Msg) bool
}

// Link multiplexes the links from one process to all of its peers
// over a single socket. It implements lattice.Outbound.
type Link struct {
	conn   net.PacketConn
	self   lattice.ProcessID
	peers  map[lattice.ProcessID]net.Addr
	cfg    Config
	logger logrus.FieldLogger

	acked     *Tracker // acks received, by acknowledging process
	delivered *Tracker // messages delivered, by source
	sender    *sender

	stats struct {
		sent, resent, received, duplicates, malformed, deferred atomic.Uint64
	}
}

var _ lattice.Outbound = (*Link)(nil)

// New produces a Link for process self, sending and receiving on conn.
// Peers maps every process, self included, to its address.
func New(conn net.PacketConn, self lattice.ProcessID, peers map[lattice.ProcessID]net.Addr, cfg Config, logger logrus.FieldLogger) (*Link, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if self == 0 {
		return nil, lattice.ErrReservedID
	}
	for id := range peers {
		if id == 0 {
			return nil, lattice.ErrReservedID
		}
	}
	if _, ok := peers[self]; !ok {
		return nil, fmt.Errorf("%w: no address for self (%d)", lattice.ErrUnknownPeer, self)
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	ids := make([]lattice.ProcessID, 0, len(peers))
	for id := range peers {
		ids = append(ids, id)
	}
	l := &Link{
		conn:      conn,
		self:      self,
		peers:     peers,
		cfg:       cfg,
		logger:    logger.WithField("node", self),
		acked:     NewTracker(),
		delivered: NewTracker(ids...),
	}
	l.sender = newSender(l)
	return l, nil
}

// Send queues msg for reliable delivery to dest. It does not block.
func (l *Link) Send(msg *lattice.Msg, dest lattice.ProcessID) error {
	if _, ok := l.peers[dest]; !ok {
		return fmt.Errorf("%w: %d", lattice.ErrUnknownPeer, dest)
	}
	l.sender.enqueue(msg, dest)
	return nil
}

// Flush frees the state kept for agreements up to and including upTo.
// Further copies of their messages are acknowledged but not delivered.
func (l *Link) Flush(upTo lattice.AgreementID) {
	l.delivered.FlushAll(upTo)
	l.acked.Prune(upTo)
	l.sender.forget(upTo)
}

// Run sends and receives until ctx is canceled, delivering inbound
// messages to d. It closes the Link's socket before returning.
func (l *Link) Run(ctx context.Context, d Deliverer) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return l.sender.run(ctx)
	})
	g.Go(func() error {
		return l.receive(ctx, d)
	})
	g.Go(func() error {
		<-ctx.Done()
		return l.conn.Close()
	})
	return g.Wait()
}

// Stats is a snapshot of a Link's counters.
type Stats struct {
	Sent       uint64 // datagrams written, including resends and acks
	Resent     uint64
	Received   uint64 // well-formed datagrams read
	Duplicates uint64 // retransmissions of delivered messages
	Malformed  uint64
	Deferred   uint64 // messages the Deliverer refused

	RetryTimeout time.Duration
	InFlight     int
}

func (l *Link) Stats() Stats {
	timeout, inflight := l.sender.status()
	return Stats{
		Sent:         l.stats.sent.Load(),
		Resent:       l.stats.resent.Load(),
		Received:     l.stats.received.Load(),
		Duplicates:   l.stats.duplicates.Load(),
		Malformed:    l.stats.malformed.Load(),
		Deferred:     l.stats.deferred.Load(),
		RetryTimeout: timeout,
		InFlight:     inflight,
	}
}
