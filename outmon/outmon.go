/*
NAME
  outmon.go - tracks per-PID timestamp continuity on the emitted output
  stream for diagnostics, without ever altering what is sent.

DESCRIPTION
  Grounded on container/mts/discontinuity.go's per-PID bookkeeping map
  shape, but retargeted from continuity-counter repair to pure observation:
  spec.md §4.7 requires the output monitor to be read-only, logging
  discontinuities rather than correcting them (correction already happened
  upstream in rebase and pidmap). Discontinuity counts are also exported as
  Prometheus metrics so an operator can alert on them externally, the same
  metrics surface snapetech-plexTuner exposes for its own stream health
  counters.

LICENSE
  See repository LICENSE.
*/

// Package outmon observes the already-rewritten output stream and reports
// timestamp discontinuities and periodic summaries, without altering
// anything.
package outmon

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const wrapModulus = int64(1) << 33

// pidState is the last observed timestamp for one output PID.
type pidState struct {
	lastPTS    int64
	havePTS    bool
	discCount  int
}

// Monitor tracks per-PID PTS continuity and the last PCR seen across all
// PIDs, purely for diagnostics.
type Monitor struct {
	mu sync.Mutex

	pids map[uint16]*pidState

	lastPCR    int64
	havePCR    bool
	pcrDiscont int

	summaryEvery time.Duration
	lastSummary  time.Time
	onSummary    func(Summary)

	registry       *prometheus.Registry
	ptsDiscont     *prometheus.CounterVec
	pcrDiscontGauge prometheus.Counter
}

// Summary is a periodic snapshot handed to the configured callback.
type Summary struct {
	PerPID           map[uint16]int
	PCRDiscontinuity int
}

// New returns a Monitor that calls onSummary (if non-nil) no more often
// than every summaryEvery. Each Monitor owns a private Prometheus registry
// so multiple instances (as in tests) never collide over default-registry
// metric names; Registry returns it for wiring into an HTTP scrape handler.
func New(summaryEvery time.Duration, onSummary func(Summary)) *Monitor {
	m := &Monitor{
		pids:         make(map[uint16]*pidState),
		summaryEvery: summaryEvery,
		onSummary:    onSummary,
		registry:     prometheus.NewRegistry(),
		ptsDiscont: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tsmux_output_pts_discontinuities_total",
			Help: "Count of implausible PTS jumps observed on the emitted output stream, by PID.",
		}, []string{"pid"}),
		pcrDiscontGauge: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tsmux_output_pcr_discontinuities_total",
			Help: "Count of implausible PCR jumps observed on the emitted output stream.",
		}),
	}
	m.registry.MustRegister(m.ptsDiscont, m.pcrDiscontGauge)
	return m
}

// Registry returns the Monitor's private Prometheus registry, for mounting
// behind a /metrics HTTP handler.
func (m *Monitor) Registry() *prometheus.Registry { return m.registry }

// ObservePTS records a PTS value seen on an output PID, incrementing that
// PID's discontinuity counter if the delta from the previous value is
// implausible: the forward distance modulo 2^33 exceeds half the 33-bit
// range, i.e. the value went backwards rather than wrapping.
func (m *Monitor) ObservePTS(pid uint16, pts uint64, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.pids[pid]
	if !ok {
		s = &pidState{}
		m.pids[pid] = s
	}
	v := int64(pts)
	if s.havePTS {
		delta := v - s.lastPTS
		if delta < 0 {
			delta += wrapModulus
		}
		if delta < 0 || delta > wrapModulus/2 {
			s.discCount++
			m.ptsDiscont.WithLabelValues(strconv.FormatUint(uint64(pid), 10)).Inc()
		}
	}
	s.lastPTS = v
	s.havePTS = true
	m.maybeSummarize(now)
}

// ObservePCR records a PCR value seen on any PID, with the same
// wraparound-aware discontinuity check.
func (m *Monitor) ObservePCR(pcr uint64, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v := int64(pcr)
	if m.havePCR {
		delta := v - m.lastPCR
		if delta < 0 {
			delta += wrapModulus
		}
		if delta < 0 || delta > wrapModulus/2 {
			m.pcrDiscont++
			m.pcrDiscontGauge.Inc()
		}
	}
	m.lastPCR = v
	m.havePCR = true
	m.maybeSummarize(now)
}

// maybeSummarize invokes onSummary if enough time has passed. Caller must
// hold mu.
func (m *Monitor) maybeSummarize(now time.Time) {
	if m.onSummary == nil || m.summaryEvery <= 0 {
		return
	}
	if !m.lastSummary.IsZero() && now.Sub(m.lastSummary) < m.summaryEvery {
		return
	}
	m.lastSummary = now
	perPID := make(map[uint16]int, len(m.pids))
	for pid, s := range m.pids {
		perPID[pid] = s.discCount
	}
	m.onSummary(Summary{PerPID: perPID, PCRDiscontinuity: m.pcrDiscont})
}
