/*
NAME
  scanner.go - scans an H.264 elementary stream for access unit boundaries
  and classifies each access unit's NAL content to find clean switch points.

DESCRIPTION
  Generalizes codec/h264/lex.go's Annex-B byte scanner (which splits a raw
  bytestream into discrete writes on NAL boundaries) and parse.go's NALType
  (which classifies a single NAL unit by its low 5 bits) into a stateful
  Scanner that accumulates payload from video-PID TS packets, delimits
  access units the way spec.md §4.2 describes (AUD 0x09, or a new PUSI on
  the video PID), and reports FrameInfo for each completed access unit.

LICENSE
  See repository LICENSE.
*/

// Package nal scans an H.264 Annex-B byte stream for access unit boundaries
// and clean switch points (IDR + SPS + PPS).
package nal

// NAL unit type codes, ITU-T H.264 table 7-1.
const (
	TypeNonIDRSlice         = 1
	TypeIDRSlice            = 5
	TypeSEI                 = 6
	TypeSPS                 = 7
	TypePPS                 = 8
	TypeAccessUnitDelimiter = 9
)

// FrameInfo is the classification of one access unit, per spec.md §3.
type FrameInfo struct {
	IsIDR          bool
	HasSPS         bool
	HasPPS         bool
	HasAUD         bool
	PrimaryNALType int
	NALTypes       []int

	// SPS and PPS hold the raw NAL bytes (header included, start code
	// excluded) of the most recently observed parameter sets, cached across
	// access units the way an SPS/PPS pair typically precedes only the IDR
	// that needs them.
	SPS []byte
	PPS []byte
}

// IsCleanSwitchPoint reports whether the access unit is usable as a switch
// point: an IDR access unit accompanied by both SPS and PPS.
func (f FrameInfo) IsCleanSwitchPoint() bool {
	return f.IsIDR && f.HasSPS && f.HasPPS
}

// Scanner accumulates an H.264 byte stream one TS-packet payload at a time
// and reports a completed FrameInfo each time an access unit boundary is
// crossed.
type Scanner struct {
	cur []byte // Bytes of the access unit currently being accumulated.

	cachedSPS []byte
	cachedPPS []byte

	started bool // Whether we've begun accumulating an access unit yet.
}

// NewScanner returns a Scanner ready to accumulate the first access unit.
func NewScanner() *Scanner { return &Scanner{} }

// Feed appends payload bytes from a video-PID packet. pusi indicates this
// payload begins a new PES packet on the video PID, which spec.md §4.2
// treats as an access unit boundary in addition to an in-stream AUD. When a
// boundary is crossed, the just-completed access unit's FrameInfo is
// returned with ok true.
func (s *Scanner) Feed(payload []byte, pusi bool) (fi FrameInfo, ok bool) {
	if pusi && s.started && len(s.cur) > 0 {
		fi = s.classify(s.cur)
		ok = true
		s.cur = s.cur[:0]
	}
	s.started = true
	s.cur = append(s.cur, payload...)

	// An AUD appearing mid-accumulation also closes the current access unit,
	// per spec.md §4.2; scan eagerly for one once enough bytes have arrived.
	if idx, nalStart := findAUD(s.cur); idx >= 0 && nalStart < len(s.cur) {
		completed := s.cur[:idx]
		if len(completed) > 0 {
			fi = s.classify(completed)
			ok = true
		}
		s.cur = append([]byte(nil), s.cur[idx:]...)
	}
	return fi, ok
}

// Flush forces the currently-accumulating access unit to be classified and
// returned, clearing the scanner's buffer. Used when a source's buffer is
// snapshotted and no further payload will arrive for the current AU.
func (s *Scanner) Flush() (fi FrameInfo, ok bool) {
	if len(s.cur) == 0 {
		return FrameInfo{}, false
	}
	fi = s.classify(s.cur)
	s.cur = s.cur[:0]
	return fi, true
}

// Reset clears all scanner state, including cached parameter sets. Called
// by the engine at the start of a "new loop" (source restart), per
// spec.md §4.2.
func (s *Scanner) Reset() {
	s.cur = nil
	s.cachedSPS = nil
	s.cachedPPS = nil
	s.started = false
}

// classify splits au into NAL units and builds a FrameInfo, caching any
// SPS/PPS found so that an IDR arriving without its own parameter sets can
// still report the most recently cached ones (matching real encoder
// behaviour, where SPS/PPS typically precede only the first IDR of a run).
func (s *Scanner) classify(au []byte) FrameInfo {
	var fi FrameInfo
	for _, n := range splitNALUnits(au) {
		if len(n) == 0 {
			continue
		}
		typ := int(n[0] & 0x1F)
		fi.NALTypes = append(fi.NALTypes, typ)
		if fi.PrimaryNALType == 0 && typ != TypeAccessUnitDelimiter && typ != TypeSEI {
			fi.PrimaryNALType = typ
		}
		switch typ {
		case TypeIDRSlice:
			fi.IsIDR = true
		case TypeSPS:
			fi.HasSPS = true
			s.cachedSPS = append([]byte(nil), n...)
		case TypePPS:
			fi.HasPPS = true
			s.cachedPPS = append([]byte(nil), n...)
		case TypeAccessUnitDelimiter:
			fi.HasAUD = true
		}
	}
	fi.SPS = s.cachedSPS
	fi.PPS = s.cachedPPS
	return fi
}

// splitNALUnits splits an Annex-B byte stream into individual NAL units
// (header byte onward, start code excluded), recognising both the 3-byte
// (00 00 01) and 4-byte (00 00 00 01) start code forms.
func splitNALUnits(b []byte) [][]byte {
	var units [][]byte
	starts := findStartCodes(b)
	for i, start := range starts {
		end := len(b)
		if i+1 < len(starts) {
			end = starts[i+1].scStart
		}
		if start.nalStart >= end {
			continue
		}
		units = append(units, b[start.nalStart:end])
	}
	return units
}

type startCode struct {
	scStart  int // Index of the first 0x00 of the start code.
	nalStart int // Index of the first byte of the NAL unit (after the start code).
}

// findStartCodes locates every Annex-B start code in b.
func findStartCodes(b []byte) []startCode {
	var out []startCode
	for i := 0; i+2 < len(b); i++ {
		if b[i] != 0x00 || b[i+1] != 0x00 {
			continue
		}
		if b[i+2] == 0x01 {
			out = append(out, startCode{scStart: i, nalStart: i + 3})
			i += 2
			continue
		}
		if i+3 < len(b) && b[i+2] == 0x00 && b[i+3] == 0x01 {
			out = append(out, startCode{scStart: i, nalStart: i + 4})
			i += 3
		}
	}
	return out
}

// findAUD returns the byte index at which an access unit delimiter NAL
// begins (including its start code) within b, and the index of the NAL
// header byte itself. Returns (-1, -1) if none is found after the first
// position (an AUD at position 0 does not close anything, since nothing
// precedes it).
func findAUD(b []byte) (scStart, nalStart int) {
	for _, sc := range findStartCodes(b) {
		if sc.scStart == 0 {
			continue
		}
		if sc.nalStart < len(b) && b[sc.nalStart]&0x1F == TypeAccessUnitDelimiter {
			return sc.scStart, sc.nalStart
		}
	}
	return -1, -1
}
