package link

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/bobg/lattice"
)

func (l *Link) receive(ctx context.Context, d Deliverer) error {
	buf := make([]byte, lattice.MaxDatagramSize)

	for ctx.Err() == nil {
		if err := l.conn.SetReadDeadline(time.Now().Add(l.cfg.ReadTimeout)); err != nil && ctx.Err() == nil {
			l.logger.Errorf("setting read deadline: %s", err)
		}
		nread, _, err := l.conn.ReadFrom(buf)
		if err != nil {
			var nerr net.Error
			switch {
			case errors.As(err, &nerr) && nerr.Timeout():
			case errors.Is(err, net.ErrClosed):
				return nil
			default:
				l.logger.Errorf("reading: %s", err)
			}
			continue
		}

		msg, err := lattice.UnmarshalMsg(buf[:nread])
		if err != nil {
			l.stats.malformed.Add(1)
			l.logger.Debugf("discarding datagram: %s", err)
			continue
		}
		l.stats.received.Add(1)
		l.handle(msg, d)
	}
	return nil
}

// handle processes one decoded message. Acks settle the retry set and
// go no further. Anything else is acknowledged once the Deliverer has
// taken it, and again on every retransmission, but delivered only
// once.
func (l *Link) handle(msg *lattice.Msg, d Deliverer) {
	if msg.Kind == lattice.Ack {
		l.acked.Add(msg.Sender, msg.Key())
		return
	}
	if _, ok := l.peers[msg.Sender]; !ok {
		l.logger.Warnf("discarding %s from unknown process", msg)
		return
	}

	key := msg.Key()
	if l.delivered.Contains(msg.Source, key) {
		l.stats.duplicates.Add(1)
		l.sender.enqueue(msg.AckFor(l.self), msg.Sender)
		return
	}
	if !d.Deliver(msg) {
		l.stats.deferred.Add(1)
		return
	}
	l.delivered.Add(msg.Source, key)
	l.sender.enqueue(msg.AckFor(l.self), msg.Sender)
}
