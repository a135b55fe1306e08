package main

// Usage:
//   lsim [-v] SCENARIOFILE
//
// Runs a lattice agreement group in one process, over loopback UDP
// made lossy as the scenario says, and checks the decisions.
// Sample scenarios are in cmd/lsim/toml.

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/bobg/lattice"
	"github.com/bobg/lattice/link"
)

func main() {
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: lsim [-v] SCENARIOFILE")
		os.Exit(2)
	}
	if *verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	var sc scenario
	if _, err := toml.DecodeFile(flag.Arg(0), &sc); err != nil {
		logrus.Fatal(err)
	}
	plan, err := sc.plan()
	if err != nil {
		logrus.Fatal(err)
	}

	decided, err := simulate(context.Background(), &sc, plan, logrus.StandardLogger())
	if err != nil {
		logrus.Fatal(err)
	}
	errs := check(plan, decided)
	for _, err := range errs {
		logrus.Error(err)
	}
	if len(errs) > 0 {
		os.Exit(1)
	}
	logrus.Infof("%d processes agreed on all agreements", len(plan))
}

type recorder struct {
	mu      sync.Mutex
	decided map[lattice.ProcessID]map[lattice.AgreementID]lattice.ValueSet
	want    int
	count   int
	done    chan struct{}
}

// decider records id's decisions. Its map must already be in place.
func (r *recorder) decider(id lattice.ProcessID) lattice.Decider {
	return lattice.DeciderFunc(func(a lattice.AgreementID, vals lattice.ValueSet) {
		r.mu.Lock()
		defer r.mu.Unlock()

		r.decided[id][a] = vals
		r.count++
		if r.count == r.want {
			close(r.done)
		}
	})
}

// simulate runs every process of plan until all have decided all
// their agreements, or the scenario's timeout passes.
func simulate(ctx context.Context, sc *scenario, plan map[lattice.ProcessID][]lattice.ValueSet, logger logrus.FieldLogger) (map[lattice.ProcessID]map[lattice.AgreementID]lattice.ValueSet, error) {
	timeout := sc.Timeout
	if timeout == 0 {
		timeout = time.Minute
	}
	window := sc.Window
	if window == 0 {
		window = lattice.DefaultWindow
	}

	rec := &recorder{
		decided: make(map[lattice.ProcessID]map[lattice.AgreementID]lattice.ValueSet),
		done:    make(chan struct{}),
	}

	var (
		ids   []lattice.ProcessID
		peers = make(map[lattice.ProcessID]net.Addr)
		conns = make(map[lattice.ProcessID]net.PacketConn)
	)
	for id, sets := range plan {
		conn, err := net.ListenPacket("udp", "127.0.0.1:0")
		if err != nil {
			return nil, err
		}
		defer conn.Close()
		conns[id] = link.NewLossy(conn, sc.Loss, sc.Dup, sc.MaxDelay, sc.Seed+int64(id), logger)
		peers[id] = conn.LocalAddr()
		ids = append(ids, id)
		rec.decided[id] = make(map[lattice.AgreementID]lattice.ValueSet)
		rec.want += len(sets)
	}
	members, err := lattice.NewProcessSet(ids...)
	if err != nil {
		return nil, err
	}
	if rec.want == 0 {
		return rec.decided, nil
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	for id, sets := range plan {
		l, err := link.New(conns[id], id, peers, link.DefaultConfig(), logger)
		if err != nil {
			return nil, err
		}
		node, err := lattice.NewNode(id, members, l, rec.decider(id), lattice.WithWindow(window), lattice.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		sets := sets
		g.Go(func() error { return l.Run(ctx, node) })
		g.Go(func() error {
			if err := node.Run(ctx); ctx.Err() == nil {
				return err
			}
			return nil
		})
		g.Go(func() error {
			for i, vals := range sets {
				err := node.ProposeWait(ctx, lattice.AgreementID(i), vals)
				if ctx.Err() != nil {
					return nil
				}
				if err != nil {
					return err
				}
			}
			return nil
		})
	}

	g.Go(func() error {
		select {
		case <-rec.done:
			cancel()
			return nil
		case <-ctx.Done():
			return fmt.Errorf("%d of %d decisions before timeout: %w", rec.decisions(), rec.want, ctx.Err())
		}
	})

	err = g.Wait()
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.decided, err
}

func (r *recorder) decisions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}
