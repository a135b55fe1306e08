/*
Package lattice is an implementation of generalized lattice agreement
among a fixed set of processes.

A Node is a participant. The caller proposes a set of integer values
for an agreement instance with Propose, and the network exchanges
PROPOSAL, ACK and NACK messages (type Msg) until a majority accepts a
single proposed set. That set is then decided: it is handed to the
caller's Decider. Sets decided for the same instance at different
processes are always comparable (one contains the other), and every
decided set contains the proposer's own values.

Nodes do not talk to the network themselves. Outbound messages go
through an Outbound (normally a *link.Link, a reliable "perfect link"
over UDP), and the transport feeds inbound messages to Node.Deliver.

Only a bounded window of agreement instances is in progress at any
time. An instance is garbage-collected once every process is known to
have decided it.

A real process lives in cmd/lattice. An in-process simulation over a
lossy loopback network can be found in cmd/lsim; it takes the name of
a TOML file describing the scenario.
*/
package lattice
