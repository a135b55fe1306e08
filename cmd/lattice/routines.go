package main

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bobg/lattice"
	"github.com/bobg/lattice/link"
)

// flushInterval is how often decisions are written to the output file.
const flushInterval = 2 * time.Second

func runNode(ctx context.Context, node *lattice.Node) error {
	err := node.Run(ctx)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// propose proposes each set in turn, set i for agreement i, waiting
// whenever the node's window is full.
func propose(ctx context.Context, node *lattice.Node, sets []lattice.ValueSet, logger logrus.FieldLogger) error {
	for i, vals := range sets {
		if err := node.ProposeWait(ctx, lattice.AgreementID(i), vals); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
	logger.Infof("all %d proposals made", len(sets))
	return nil
}

// writeOutput flushes the output log periodically, and a final time
// on shutdown.
func writeOutput(ctx context.Context, out *output, total int, logger logrus.FieldLogger) error {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			n, err := out.flush()
			logger.Infof("wrote %d of %d decisions", n, total)
			return err

		case <-ticker.C:
			n, err := out.flush()
			if err != nil {
				return err
			}
			logger.Debugf("%d of %d decisions written", n, total)
		}
	}
}

func reportStats(ctx context.Context, l *link.Link, node *lattice.Node, logger logrus.FieldLogger) error {
	ticker := time.NewTicker(10 * flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			st, ls := node.Status(), l.Stats()
			logger.WithFields(logrus.Fields{
				"bottom":    st.Bottom,
				"undecided": st.Undecided,
				"decisions": st.Decisions,
				"sent":      ls.Sent,
				"resent":    ls.Resent,
				"in_flight": ls.InFlight,
				"timeout":   ls.RetryTimeout,
			}).Info("status")
		}
	}
}
