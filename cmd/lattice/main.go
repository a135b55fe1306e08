package main

// Usage:
//   lattice -id N -hosts HOSTSFILE -output OUTFILE [-tuning TOMLFILE] [-status ADDR] CONFIGFILE
//
// Runs one process of a lattice agreement group. HOSTSFILE lists every
// process as "id host port". CONFIGFILE holds the sets this process
// proposes. Decisions go to OUTFILE, one line per agreement, until the
// process is interrupted. With -status, a JSON snapshot of the node
// and its link is served at http://ADDR/status.

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/bobg/lattice"
	"github.com/bobg/lattice/link"
)

func main() {
	var (
		id         = flag.Uint("id", 0, "this process's id")
		hostsFile  = flag.String("hosts", "", "hosts file")
		outFile    = flag.String("output", "", "output file")
		tuningFile = flag.String("tuning", "", "optional TOML tuning file")
		statusAddr = flag.String("status", "", "optional status listen address (host:port)")
	)
	flag.Parse()

	if *id == 0 || *hostsFile == "" || *outFile == "" || flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: lattice -id N -hosts HOSTSFILE -output OUTFILE [-tuning TOMLFILE] [-status ADDR] CONFIGFILE")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, lattice.ProcessID(*id), *hostsFile, *outFile, *tuningFile, *statusAddr, flag.Arg(0)); err != nil {
		logrus.Fatal(err)
	}
}

func run(ctx context.Context, self lattice.ProcessID, hostsFile, outFile, tuningFile, statusAddr, confFile string) error {
	t, err := readTuning(tuningFile)
	if err != nil {
		return fmt.Errorf("reading tuning file: %w", err)
	}
	level, err := t.logLevel()
	if err != nil {
		return err
	}
	logrus.SetLevel(level)
	logger := logrus.WithField("node", self)

	f, err := os.Open(hostsFile)
	if err != nil {
		return err
	}
	hosts, err := parseHosts(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("parsing %s: %w", hostsFile, err)
	}

	f, err = os.Open(confFile)
	if err != nil {
		return err
	}
	props, err := parseProposals(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("parsing %s: %w", confFile, err)
	}

	var (
		ids   []lattice.ProcessID
		peers = make(map[lattice.ProcessID]net.Addr)
	)
	for pid, hostport := range hosts {
		addr, err := net.ResolveUDPAddr("udp", hostport)
		if err != nil {
			return fmt.Errorf("resolving %s for %d: %w", hostport, pid, err)
		}
		peers[pid] = addr
		ids = append(ids, pid)
	}
	members, err := lattice.NewProcessSet(ids...)
	if err != nil {
		return fmt.Errorf("hosts file %s: %w", hostsFile, err)
	}
	myAddr, ok := peers[self]
	if !ok {
		return fmt.Errorf("%w: %d not in %s", lattice.ErrNotMember, self, hostsFile)
	}

	outf, err := os.Create(outFile)
	if err != nil {
		return err
	}
	defer outf.Close()
	out := newOutput(outf)

	conn, err := net.ListenPacket("udp", myAddr.String())
	if err != nil {
		return err
	}
	l, err := link.New(conn, self, peers, t.linkConfig(), logrus.StandardLogger())
	if err != nil {
		conn.Close()
		return err
	}
	node, err := lattice.NewNode(self, members, l, out, lattice.WithWindow(t.window()), lattice.WithLogger(logrus.StandardLogger()))
	if err != nil {
		conn.Close()
		return err
	}

	logger.Infof("listening on %s, %d processes, %d proposals", conn.LocalAddr(), members.Len(), len(props.Sets))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return l.Run(ctx, node) })
	g.Go(func() error { return runNode(ctx, node) })
	g.Go(func() error { return propose(ctx, node, props.Sets, logger) })
	g.Go(func() error { return writeOutput(ctx, out, len(props.Sets), logger) })
	g.Go(func() error { return reportStats(ctx, l, node, logger) })
	if statusAddr != "" {
		g.Go(func() error { return serveStatus(ctx, statusAddr, statusHandler(node, l, logger), logger) })
	}
	return g.Wait()
}
