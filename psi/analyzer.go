/*
NAME
  analyzer.go - discovers a source's program structure (PAT/PMT, PIDs,
  stream types) and tracks whether it is producing usable media.

DESCRIPTION
  Grounded on container/mts/mpegts.go's FindPSI/Programs/Streams, which use
  github.com/Comcast/gots/v2/psi to parse PAT/PMT sections out of a single TS
  packet. Unlike FindPSI (which operates on a static byte blob), Analyzer is
  fed one packet at a time as they arrive from an ingest driver, and folds
  PAT/PMT discovery and per-PID valid-packet counting into a single pass, the
  way StreamAnalyzer is specified in spec.md §4.1.

LICENSE
  See repository LICENSE.
*/

// Package psi discovers MPEG-TS program structure (PAT/PMT) from a live
// packet stream.
package psi

import (
	"sync"

	"github.com/pkg/errors"

	gotspsi "github.com/Comcast/gots/v2/psi"

	"github.com/aolab/tsmux/tspacket"
)

// Stream types recognised for video and audio elementary streams, per
// ISO/IEC 13818-1 table 2-34.
const (
	StreamTypeAVC     = 0x1B // H.264/AVC video.
	StreamTypeHEVC    = 0x24 // H.265/HEVC video (accepted but not required).
	StreamTypeADTSAAC = 0x0F // AAC with ADTS framing.
	StreamTypeLATMAAC = 0x11 // AAC with LATM framing.
)

// PIDPAT is the well-known PID carrying the program association table.
const PIDPAT = tspacket.PIDPAT

// readyMediaCount is the minimum number of valid payload-bearing PES starts
// required on a PID before the source is considered media-ready, per
// spec.md §3.
const readyMediaCount = 5

// StreamInfo describes a source's discovered program structure.
type StreamInfo struct {
	VideoPID        uint16
	AudioPID        uint16
	PCRPID          uint16
	PMTPID          uint16
	ProgramNumber   uint16
	VideoStreamType uint8
	AudioStreamType uint8
	Initialized     bool

	ValidVideoCount int
	ValidAudioCount int
}

// MediaReady reports whether the source has produced enough valid video and
// audio PES starts to be trusted as a switch candidate (spec.md §3).
func (s StreamInfo) MediaReady() bool {
	return s.Initialized && s.ValidVideoCount >= readyMediaCount && s.ValidAudioCount >= readyMediaCount
}

// Analyzer incrementally discovers a single source's StreamInfo by observing
// each TS packet as it arrives. It never aborts on malformed PSI; failures
// are absorbed per spec.md §4.1's "analyzer never aborts" policy.
type Analyzer struct {
	mu   sync.Mutex
	info StreamInfo
}

// NewAnalyzer returns a ready-to-use Analyzer.
func NewAnalyzer() *Analyzer {
	return &Analyzer{}
}

// Observe feeds a single TS packet to the analyzer. It is safe to call from
// the ingest goroutine that owns the packet.
func (a *Analyzer) Observe(p tspacket.Packet) {
	a.mu.Lock()
	defer a.mu.Unlock()

	pid := p.PID()
	switch {
	case pid == PIDPAT:
		a.observePAT(p)
	case a.info.Initialized && pid == a.info.PMTPID:
		a.observePMT(p)
	case a.info.Initialized && pid == a.info.VideoPID:
		a.countPESStart(p, &a.info.ValidVideoCount)
	case a.info.Initialized && pid == a.info.AudioPID:
		a.countPESStart(p, &a.info.ValidAudioCount)
	}
}

// Info returns a snapshot of the currently discovered StreamInfo.
func (a *Analyzer) Info() StreamInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.info
}

// observePAT looks for a single-program PAT and records the PMT PID.
// Malformed or multi-program PATs are silently ignored, per spec.md §4.1.
func (a *Analyzer) observePAT(p tspacket.Packet) {
	if !p.PUSI() || !p.HasPayload() {
		return
	}
	pat, err := gotspsi.NewPAT(p.Raw)
	if err != nil {
		return
	}
	progs := pat.ProgramMap()
	if len(progs) != 1 {
		return
	}
	for prog, pmtPID := range progs {
		a.info.ProgramNumber = uint16(prog)
		a.info.PMTPID = uint16(pmtPID)
	}
}

// observePMT resolves the PCR PID and the first video/audio elementary
// streams from a PMT section, setting Initialized once fully resolved.
func (a *Analyzer) observePMT(p tspacket.Packet) {
	if !p.PUSI() || !p.HasPayload() {
		return
	}
	payload, err := p.Payload()
	if err != nil {
		return
	}
	pmt, err := gotspsi.NewPMT(payload)
	if err != nil {
		return
	}

	var videoPID, audioPID uint16
	var videoType, audioType uint8
	var haveVideo, haveAudio bool
	for _, es := range pmt.ElementaryStreams() {
		st := es.StreamType()
		switch {
		case !haveVideo && (st == StreamTypeAVC || st == StreamTypeHEVC):
			videoPID, videoType, haveVideo = uint16(es.ElementaryPid()), st, true
		case !haveAudio && (st == StreamTypeADTSAAC || st == StreamTypeLATMAAC):
			audioPID, audioType, haveAudio = uint16(es.ElementaryPid()), st, true
		}
	}
	if !haveVideo || !haveAudio {
		return
	}

	a.info.VideoPID = videoPID
	a.info.VideoStreamType = videoType
	a.info.AudioPID = audioPID
	a.info.AudioStreamType = audioType
	a.info.PCRPID = uint16(pmt.PcrPid())
	a.info.Initialized = true
}

// countPESStart increments *count when p is a payload-bearing PUSI packet
// whose payload begins with a PES start code, per spec.md §4.1.
func (a *Analyzer) countPESStart(p tspacket.Packet, count *int) {
	if !p.PUSI() || !p.HasPayload() {
		return
	}
	payload, err := p.Payload()
	if err != nil {
		return
	}
	if tspacket.IsPESStart(payload) {
		*count++
	}
}

// ErrNotReady is returned by helpers that require a fully discovered,
// media-ready StreamInfo.
var ErrNotReady = errors.New("psi: stream not media-ready")
