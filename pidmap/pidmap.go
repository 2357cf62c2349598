/*
NAME
  pidmap.go - remaps a source's PIDs onto the output PID set and renumbers
  continuity counters on the output timeline.

DESCRIPTION
  Grounded on container/mts/discontinuity.go's DiscontinuityRepairer, which
  keeps a map[pid]expectedCC and advances it mod-16 per packet. PidMapper
  reuses that exact bookkeeping shape, but keyed by output PID rather than
  source PID. Per spec.md §4.5 the output PIDs are the live source's own
  discovered PIDs (until live is armed, the first-armed source's own PIDs
  stand in), not an arbitrary fixed set: when live's own packets are
  forwarded the PID mapping is the identity, and only the fallback source's
  packets are renumbered onto live's PIDs when fallback is what's on air.
  The continuity counter still has to be continuous per output PID
  regardless of which source is currently live.

LICENSE
  See repository LICENSE.
*/

// Package pidmap remaps a source's video/audio/PMT PIDs onto the engine's
// current output PID set and renumbers continuity counters for a single
// seamless output timeline.
package pidmap

import "github.com/aolab/tsmux/tspacket"

// SourcePIDs is the set of PIDs a single source's stream uses, discovered
// by psi.Analyzer.
type SourcePIDs struct {
	PMT   uint16
	Video uint16
	Audio uint16
}

// Mapper rewrites PIDs from a source's own numbering onto the engine's
// current output numbering, and renumbers continuity counters so the output
// stream is continuous across source switches.
type Mapper struct {
	target SourcePIDs // Output PID assignment: the live source's own PIDs once live is armed, else the first-armed source's.
	src    SourcePIDs // Input PID assignment currently being rewritten.

	expectedCC map[uint16]byte
}

// New returns a Mapper targeting the given output PID assignment, with the
// input assignment initially identical to it (the common case: a source is
// armed before any other source has been adopted as the output target).
// Continuity counters all start at 0, matching a fresh output stream.
func New(target SourcePIDs) *Mapper {
	m := &Mapper{target: target, src: target}
	m.expectedCC = map[uint16]byte{
		tspacket.PIDPAT: 0,
		target.PMT:      0,
		target.Video:    0,
		target.Audio:    0,
	}
	return m
}

// SetSource updates the input PID assignment without resetting continuity
// counters, used when a source's PMT is re-parsed after a restart but the
// output timeline must remain continuous.
func (m *Mapper) SetSource(src SourcePIDs) { m.src = src }

// SetTarget updates the output PID assignment, used when the live
// candidate's own PIDs are adopted after an earlier provisional target (the
// fallback source's own PIDs, used before live had ever been observed) was
// in effect. Continuity counters are preserved per output PID; any PID the
// new target no longer covers stops being advanced but its entry is left in
// place rather than deleted, since ExpectedCC may still be queried for it.
func (m *Mapper) SetTarget(target SourcePIDs) {
	m.target = target
	for _, pid := range []uint16{target.PMT, target.Video, target.Audio} {
		if _, ok := m.expectedCC[pid]; !ok {
			m.expectedCC[pid] = 0
		}
	}
}

// TargetVideoPID and TargetAudioPID report the output PIDs a caller should
// compare a rewritten packet's PID against to classify it, since Rewrite
// mutates the packet's PID in place before the caller can inspect it.
func (m *Mapper) TargetVideoPID() uint16 { return m.target.Video }
func (m *Mapper) TargetAudioPID() uint16 { return m.target.Audio }

// outputPID returns the output PID a source PID maps to, and whether the
// source PID is one this mapper recognises.
func (m *Mapper) outputPID(sourcePID uint16) (uint16, bool) {
	switch sourcePID {
	case tspacket.PIDPAT:
		return tspacket.PIDPAT, true
	case m.src.PMT:
		return m.target.PMT, true
	case m.src.Video:
		return m.target.Video, true
	case m.src.Audio:
		return m.target.Audio, true
	default:
		return 0, false
	}
}

// Rewrite remaps p's PID onto the current output assignment and renumbers
// its continuity counter to continue the output timeline for that PID. It
// reports false if p's PID is not one of the source's mapped PIDs, in which
// case the packet should be dropped rather than forwarded.
func (m *Mapper) Rewrite(p tspacket.Packet) bool {
	out, ok := m.outputPID(p.PID())
	if !ok {
		return false
	}
	p.SetPID(out)

	// The continuity counter only advances on packets carrying a payload,
	// per ISO/IEC 13818-1; adaptation-only packets repeat the prior value.
	if p.HasPayload() {
		cc := m.expectedCC[out]
		p.SetCC(cc)
		m.expectedCC[out] = (cc + 1) & 0x0F
	} else {
		p.SetCC((m.expectedCC[out] - 1) & 0x0F)
	}
	return true
}

// ExpectedCC returns the next continuity counter value that will be written
// for the given output PID, for diagnostics.
func (m *Mapper) ExpectedCC(out uint16) byte { return m.expectedCC[out] }
