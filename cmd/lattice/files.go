package main

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/bobg/lattice"
)

// parseHosts reads a hosts file: one process per line, "id host port".
func parseHosts(r io.Reader) (map[lattice.ProcessID]string, error) {
	hosts := make(map[lattice.ProcessID]string)
	sc := bufio.NewScanner(r)
	for lineno := 1; sc.Scan(); lineno++ {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 3 {
			return nil, fmt.Errorf("hosts line %d: got %d fields, want 3", lineno, len(fields))
		}
		id, err := strconv.ParseUint(fields[0], 10, 16)
		if err != nil {
			return nil, fmt.Errorf("hosts line %d: id: %w", lineno, err)
		}
		if id == 0 {
			return nil, fmt.Errorf("hosts line %d: %w", lineno, lattice.ErrReservedID)
		}
		port, err := strconv.ParseUint(fields[2], 10, 16)
		if err != nil || port == 0 {
			return nil, fmt.Errorf("hosts line %d: bad port %q", lineno, fields[2])
		}
		pid := lattice.ProcessID(id)
		if _, ok := hosts[pid]; ok {
			return nil, fmt.Errorf("hosts line %d: duplicate id %d", lineno, id)
		}
		hosts[pid] = net.JoinHostPort(fields[1], fields[2])
	}
	return hosts, sc.Err()
}

// proposals is the content of a config file: a header line "p vs ds"
// followed by p lines, line i holding the values this process
// proposes for agreement i.
type proposals struct {
	P, VS, DS int
	Sets      []lattice.ValueSet
}

func parseProposals(r io.Reader) (*proposals, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(nil, 16*1024*1024)

	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("empty config")
	}
	var result proposals
	header, err := ints(sc.Text())
	if err != nil || len(header) != 3 {
		return nil, fmt.Errorf("config header %q: want \"p vs ds\"", sc.Text())
	}
	result.P, result.VS, result.DS = int(header[0]), int(header[1]), int(header[2])
	if result.P < 0 {
		return nil, fmt.Errorf("config header: negative proposal count %d", result.P)
	}

	for len(result.Sets) < result.P && sc.Scan() {
		vals, err := ints(sc.Text())
		if err != nil {
			return nil, fmt.Errorf("config line %d: %w", len(result.Sets)+2, err)
		}
		if result.VS > 0 && len(vals) > result.VS {
			return nil, fmt.Errorf("config line %d: %d values, at most %d allowed", len(result.Sets)+2, len(vals), result.VS)
		}
		result.Sets = append(result.Sets, lattice.NewValueSet(vals...))
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(result.Sets) != result.P {
		return nil, fmt.Errorf("config has %d proposals, header says %d", len(result.Sets), result.P)
	}
	return &result, nil
}

func ints(line string) ([]int32, error) {
	fields := strings.Fields(line)
	result := make([]int32, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseInt(f, 10, 32)
		if err != nil {
			return nil, err
		}
		result = append(result, int32(v))
	}
	return result, nil
}
