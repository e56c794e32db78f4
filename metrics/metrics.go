// Package metrics tracks per-transfer counters and exposes the active set
// of transfers to Prometheus.
package metrics

import (
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/jcarswell/gotftpy"
)

// TransferID uniquely identifies one transfer for logging and metrics
// labels, independent of the TFTP transfer ID (UDP port) a peer picks.
type TransferID string

// NewTransferID mints a new sortable, globally unique transfer identifier.
func NewTransferID() TransferID { return TransferID(xid.New().String()) }

// Metrics accumulates the counters for a single transfer. The zero value is
// ready to use.
type Metrics struct {
	mu sync.Mutex

	Bytes       int64
	ResentBytes int64
	dups        map[string]int
	DupCount    int
	Errors      int

	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
	Bps       float64
	Kbps      float64
}

// AddBytes records bytes sent or received on the data path.
func (m *Metrics) AddBytes(n int) {
	m.mu.Lock()
	m.Bytes += int64(n)
	m.mu.Unlock()
}

// AddResent records bytes retransmitted after a timeout.
func (m *Metrics) AddResent(n int) {
	m.mu.Lock()
	m.ResentBytes += int64(n)
	m.mu.Unlock()
}

// AddDup records a duplicate under key, returning
// tftp.ErrTooManyDuplicates once the count for that key reaches
// tftp.MaxDups. The state package keys duplicates by opcode name, so the
// count is per packet type rather than per block.
func (m *Metrics) AddDup(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dups == nil {
		m.dups = make(map[string]int)
	}
	m.dups[key]++
	m.DupCount++
	if m.dups[key] >= tftp.MaxDups {
		return tftp.ErrTooManyDuplicates
	}
	return nil
}

// AddError increments the generic error counter.
func (m *Metrics) AddError() {
	m.mu.Lock()
	m.Errors++
	m.mu.Unlock()
}

// Start marks the transfer's beginning.
func (m *Metrics) Start(now time.Time) {
	m.mu.Lock()
	m.StartTime = now
	m.mu.Unlock()
}

// End marks the transfer's completion and computes the derived rates.
func (m *Metrics) End(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.EndTime = now
	m.Duration = m.EndTime.Sub(m.StartTime)
	if m.Duration <= 0 {
		m.Duration = time.Millisecond
	}
	m.Bps = float64(m.Bytes*8) / m.Duration.Seconds()
	m.Kbps = m.Bps / 1024.0
}

// Snapshot returns a copy of the counters safe to read without holding m's
// lock afterward.
func (m *Metrics) Snapshot() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *m
	cp.dups = nil
	return cp
}
