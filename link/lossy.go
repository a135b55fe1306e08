package link

import (
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Lossy wraps a PacketConn, making its writes unreliable: each
// datagram may be dropped, duplicated, or delayed (and thereby
// reordered). Reads are unaffected.
type Lossy struct {
	net.PacketConn

	drop, dup float64
	maxDelay  time.Duration
	logger    logrus.FieldLogger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewLossy wraps conn. Drop and dup are probabilities in [0, 1];
// delays are uniform in [0, maxDelay). Errors from delayed writes,
// which can only be reported to logger, are logged at debug level.
func NewLossy(conn net.PacketConn, drop, dup float64, maxDelay time.Duration, seed int64, logger logrus.FieldLogger) *Lossy {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Lossy{
		PacketConn: conn,
		drop:       drop,
		dup:        dup,
		maxDelay:   maxDelay,
		logger:     logger,
		rng:        rand.New(rand.NewSource(seed)),
	}
}

func (l *Lossy) WriteTo(p []byte, addr net.Addr) (int, error) {
	l.mu.Lock()
	if l.rng.Float64() < l.drop {
		l.mu.Unlock()
		return len(p), nil
	}
	copies := 1
	if l.rng.Float64() < l.dup {
		copies = 2
	}
	delays := make([]time.Duration, copies)
	if l.maxDelay > 0 {
		for i := range delays {
			delays[i] = time.Duration(l.rng.Int63n(int64(l.maxDelay)))
		}
	}
	l.mu.Unlock()

	for _, d := range delays {
		if d == 0 {
			if _, err := l.PacketConn.WriteTo(p, addr); err != nil {
				return 0, err
			}
			continue
		}
		buf := append([]byte(nil), p...)
		time.AfterFunc(d, func() {
			// Fails once the connection is closed under a pending delay.
			if _, err := l.PacketConn.WriteTo(buf, addr); err != nil {
				l.logger.Debugf("delayed write to %s: %s", addr, err)
			}
		})
	}
	return len(p), nil
}
