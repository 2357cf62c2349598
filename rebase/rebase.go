/*
NAME
  rebase.go - rewrites PCR/PTS/DTS values from a source's own clock onto the
  engine's single continuous output clock.

DESCRIPTION
  Adapted from container/mts/discontinuity.go's per-PID state-tracking
  idiom (a small struct holding the bookkeeping needed to patch a packet in
  place before it is forwarded) and from tspacket's PCR/PTS/DTS accessors.
  Where DiscontinuityRepairer tracks an expected continuity counter per PID,
  TimestampBases tracks the offsets needed to translate one source's PTS/PCR
  domain into the engine's, per spec.md §4.4.

LICENSE
  See repository LICENSE.
*/

// Package rebase translates per-source PCR/PTS/DTS values onto the engine's
// single continuous output clock across source switches.
package rebase

import (
	"github.com/pkg/errors"

	"github.com/aolab/tsmux/tspacket"
)

// wrapModulus is 2^33, the modulus both PTS/DTS and the PCR base wrap at.
const wrapModulus = uint64(1) << 33

// TimestampBases holds a source's first-observed clock values, captured
// once per source (SetBases replaces them on an existing Rebaser), used to
// compute the offset that maps that source's timestamps onto the engine's
// running output clock.
type TimestampBases struct {
	PTSBase                uint64
	AudioPTSBase            uint64
	PCRBase                 uint64
	PCRPTSAlignmentOffset   int64 // Reserved for future drift compensation; unused in rebase math today.
}

// Rebaser maps a source's PTS/DTS/PCR domain onto the engine's continuous
// output clock.
type Rebaser struct {
	bases TimestampBases

	// globalPTSOffset and globalPCROffset are added, modulo wrapModulus, to
	// every rebased value emitted from the current source, and are advanced
	// by the engine across switches via Advance.
	globalPTSOffset uint64
	globalPCROffset uint64
}

// New returns a Rebaser seeded with bases captured at source startup (or
// restart) and the engine's current global offsets.
func New(bases TimestampBases, globalPTSOffset, globalPCROffset uint64) *Rebaser {
	return &Rebaser{
		bases:           bases,
		globalPTSOffset: globalPTSOffset % wrapModulus,
		globalPCROffset: globalPCROffset % wrapModulus,
	}
}

// SetBases re-seeds the source-local bases, called when a source restarts
// ("new loop") and its own clock resets to a new, unrelated origin.
func (r *Rebaser) SetBases(bases TimestampBases) { r.bases = bases }

// rebasePTS maps a raw source PTS onto the output clock: subtract the
// source's own base (putting it at zero-relative) then add the engine's
// running global offset, wrapping modulo 2^33.
func (r *Rebaser) rebasePTS(raw, sourceBase uint64) uint64 {
	relative := (raw + wrapModulus - sourceBase%wrapModulus) % wrapModulus
	return (relative + r.globalPTSOffset) % wrapModulus
}

func (r *Rebaser) rebasePCR(raw uint64) uint64 {
	relative := (raw + wrapModulus - r.bases.PCRBase%wrapModulus) % wrapModulus
	return (relative + r.globalPCROffset) % wrapModulus
}

var ErrNoPESHeader = errors.New("rebase: packet carries no rewritable PES header")

// RewriteVideo rewrites PTS (and DTS, if present) in a video PES payload in
// place, using the video PTS base.
func (r *Rebaser) RewriteVideo(payload []byte) error {
	return r.rewritePES(payload, r.bases.PTSBase)
}

// RewriteAudio rewrites PTS (and DTS, if present) in an audio PES payload in
// place, using the audio PTS base.
func (r *Rebaser) RewriteAudio(payload []byte) error {
	return r.rewritePES(payload, r.bases.AudioPTSBase)
}

func (r *Rebaser) rewritePES(payload []byte, base uint64) error {
	flags, err := tspacket.PTSDTSFlags(payload)
	if err != nil {
		return errors.Wrap(ErrNoPESHeader, err.Error())
	}
	if flags != tspacket.PTSDTSPTSOnly && flags != tspacket.PTSDTSBoth {
		return nil
	}
	pts, err := tspacket.GetPTS(payload)
	if err != nil {
		return errors.Wrap(err, "rebase: reading PTS")
	}
	if err := tspacket.SetPTS(payload, r.rebasePTS(pts, base)); err != nil {
		return errors.Wrap(err, "rebase: writing PTS")
	}
	if flags != tspacket.PTSDTSBoth {
		return nil
	}
	dts, err := tspacket.GetDTS(payload)
	if err != nil {
		return errors.Wrap(err, "rebase: reading DTS")
	}
	if err := tspacket.SetDTS(payload, r.rebasePTS(dts, base)); err != nil {
		return errors.Wrap(err, "rebase: writing DTS")
	}
	return nil
}

// RewritePCR rewrites a packet's PCR in place, if present. It is a no-op
// (returning nil) for packets without a PCR.
func (r *Rebaser) RewritePCR(p tspacket.Packet) error {
	if !p.HasPCR() {
		return nil
	}
	raw, err := p.PCR()
	if err != nil {
		return errors.Wrap(err, "rebase: reading PCR")
	}
	return p.SetPCR(r.rebasePCR(raw))
}

// GlobalOffsets returns the current global PTS/PCR offsets, for persisting
// across a switch.
func (r *Rebaser) GlobalOffsets() (pts, pcr uint64) {
	return r.globalPTSOffset, r.globalPCROffset
}

// SetGlobalOffsets updates the offsets added to every rebased value, called
// by the engine when a source becomes active again after Advance has moved
// the output clock forward across a switch.
func (r *Rebaser) SetGlobalOffsets(pts, pcr uint64) {
	r.globalPTSOffset = pts % wrapModulus
	r.globalPCROffset = pcr % wrapModulus
}

// pcrPerPTSTick is the ratio between the PCR clock (27MHz) and the PTS/DTS
// clock (90kHz): every PTS tick corresponds to 300 PCR ticks.
const pcrPerPTSTick = uint64(300)

// Advance computes the next engine's global offsets given the just-finished
// segment's duration (in 90kHz PTS ticks), so that the next source's first
// rebased timestamp continues immediately after the last one emitted, per
// spec.md §4.4's round-trip law. The PCR offset advances by the same
// duration scaled to the 27MHz PCR clock (segmentDurationPTS * 300), keeping
// global_pts_offset * 300 == global_pcr_offset (mod 2^33).
func Advance(globalPTSOffset, globalPCROffset uint64, segmentDurationPTS uint64) (nextPTSOffset, nextPCROffset uint64) {
	nextPTSOffset = (globalPTSOffset + segmentDurationPTS) % wrapModulus
	nextPCROffset = (globalPCROffset + segmentDurationPTS*pcrPerPTSTick) % wrapModulus
	return nextPTSOffset, nextPCROffset
}
