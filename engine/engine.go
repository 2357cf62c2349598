/*
NAME
  engine.go - the switching engine's main loop: selects an active source and
  emits one continuous, rewritten MPEG-TS output.

DESCRIPTION
  Generalizes revid/revid.go's lifecycle shape (a struct holding
  configuration plus long-running goroutines tracked by a sync.WaitGroup,
  started and stopped through Start/Stop, reporting fatal errors over a
  channel) from a single-source capture pipeline into a multi-source
  selection pipeline: one feeder goroutine per source classifies and buffers
  its packets, and a single output goroutine asks switcher.Controller which
  source is authoritative, rewrites that source's next packet through
  rebase and pidmap, and writes it to the configured sink, per spec.md §4.

LICENSE
  See repository LICENSE.
*/

// Package engine wires ingest, classification, buffering, rebasing, PID
// remapping, switching and egress into the running switching engine.
package engine

import (
	"context"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aolab/tsmux/ingest"
	"github.com/aolab/tsmux/mxlog"
	"github.com/aolab/tsmux/notify"
	"github.com/aolab/tsmux/outmon"
	"github.com/aolab/tsmux/pidmap"
	"github.com/aolab/tsmux/psi"
	"github.com/aolab/tsmux/rebase"
	"github.com/aolab/tsmux/sink"
	"github.com/aolab/tsmux/sourcebuf"
	"github.com/aolab/tsmux/switcher"
	"github.com/aolab/tsmux/tspacket"
	"github.com/aolab/tsmux/tsqueue"
)

// defaultNominalFrameDurationPTS is the fallback access-unit duration in
// 90kHz PTS ticks, used for the segment_duration_pts estimate when no frame
// rate has been configured: 90000/29.97, matching a standard NTSC frame
// interval.
const defaultNominalFrameDurationPTS = 3003

// nominalFrameDurationPTS returns the configured frame rate's access-unit
// duration in 90kHz ticks, or defaultNominalFrameDurationPTS if no positive
// rate is configured.
func nominalFrameDurationPTS(frameRate float64) uint64 {
	if frameRate <= 0 {
		return defaultNominalFrameDurationPTS
	}
	return uint64(math.Round(90000 / frameRate))
}

// source holds everything the engine tracks for one ingest source.
type source struct {
	name     string
	driver   ingest.Driver
	queue    *tsqueue.Queue
	buf      *sourcebuf.Buffer
	analyzer *psi.Analyzer

	mu        sync.Mutex
	rebaser   *rebase.Rebaser
	mapper    *pidmap.Mapper
	bases     rebase.TimestampBases
	haveBases bool

	havePTSBase      bool
	haveAudioPTSBase bool
	havePCRBase      bool
}

// captureBases records the first usable PTS/PCR values seen from p as the
// source's timestamp bases, per spec.md §4.4's "first usable access unit
// after readiness" rule. Caller must hold s.mu.
func (s *source) captureBases(p tspacket.Packet, info psi.StreamInfo) {
	if !p.HasPayload() {
		return
	}
	if !s.havePTSBase && p.PID() == info.VideoPID {
		if payload, err := p.Payload(); err == nil {
			if pts, err := tspacket.GetPTS(payload); err == nil {
				s.bases.PTSBase = pts
				s.havePTSBase = true
			}
		}
	}
	if !s.haveAudioPTSBase && p.PID() == info.AudioPID {
		if payload, err := p.Payload(); err == nil {
			if pts, err := tspacket.GetPTS(payload); err == nil {
				s.bases.AudioPTSBase = pts
				s.haveAudioPTSBase = true
			}
		}
	}
	if !s.havePCRBase && p.HasPCR() {
		if pcr, err := p.PCR(); err == nil {
			s.bases.PCRBase = pcr
			s.havePCRBase = true
		}
	}
}

// basesReady reports whether every timestamp base needed to construct a
// Rebaser has been captured. Caller must hold s.mu.
func (s *source) basesReady() bool {
	return s.havePTSBase && s.haveAudioPTSBase && s.havePCRBase
}

// Engine runs the full switching pipeline for the configured sources.
type Engine struct {
	log     mxlog.Logger
	sources []*source

	sw       *switcher.Controller
	mon      *outmon.Monitor
	notifier *notify.Notifier
	sink     sink.Sink

	nominalFrameDurationPTS uint64

	runID string

	mu               sync.Mutex
	privacyAsserted  bool
	manualInput      string
	healthy          bool
	globalPTSOffset  uint64
	globalPCROffset  uint64
	runFirstPTS      uint64
	runLastPTS       uint64
	haveRunFirstPTS  bool
	haveRunLastPTS   bool
	targetPIDs       pidmap.SourcePIDs
	haveTarget       bool
	targetIsLive     bool

	activeName string // Owned solely by the output-loop goroutine.

	wg sync.WaitGroup
}

// Params bundles the dependencies New needs, already constructed by the
// command entry point from muxconfig.Config.
type Params struct {
	Log                     mxlog.Logger
	Sources                 []SourceParams
	Sink                    sink.Sink
	Notifier                *notify.Notifier
	BufferCapacity          int
	MinConsecutiveForSwitch int
	MaxLiveGap              time.Duration
	FrameRate               float64
}

// SourceParams describes one configured source.
type SourceParams struct {
	Name   string
	Driver ingest.Driver
}

// New constructs an Engine ready to Start.
func New(p Params) *Engine {
	e := &Engine{
		log:                     p.Log,
		sink:                    p.Sink,
		notifier:                p.Notifier,
		runID:                   uuid.NewString(),
		nominalFrameDurationPTS: nominalFrameDurationPTS(p.FrameRate),
	}
	e.mon = outmon.New(30*time.Second, func(s outmon.Summary) {
		e.log.Info("output summary", "run_id", e.runID, "pcr_discontinuities", s.PCRDiscontinuity)
	})
	e.sw = switcher.New(
		switcher.WithMinConsecutiveForSwitch(p.MinConsecutiveForSwitch),
		switcher.WithMaxLiveGap(p.MaxLiveGap),
		switcher.WithOnTransition(e.onTransition),
	)
	for _, sp := range p.Sources {
		e.sources = append(e.sources, &source{
			name:     sp.Name,
			driver:   sp.Driver,
			queue:    tsqueue.New(4096),
			buf:      sourcebuf.New(p.BufferCapacity),
			analyzer: psi.NewAnalyzer(),
		})
	}
	return e
}

// wrapDelta returns the forward distance from a to b around the 33-bit
// PTS/PCR wraparound, i.e. (b - a) mod 2^33.
func wrapDelta(a, b uint64) uint64 {
	const wrapModulus = uint64(1) << 33
	return (b + wrapModulus - a%wrapModulus) % wrapModulus
}

// onTransition advances the engine's global PTS/PCR offsets across a switch
// using the just-finished run's recorded first/last emitted video PTS, per
// spec.md §4.4's segment_duration_pts estimate, then applies the freshly
// advanced offsets to the newly active source's rebaser so its next
// emission continues the output clock rather than restarting it.
func (e *Engine) onTransition(from, to switcher.State) {
	e.log.Info("switch state transition", "run_id", e.runID, "from", from.String(), "to", to.String())

	e.mu.Lock()
	haveSegment := e.haveRunFirstPTS && e.haveRunLastPTS
	var segmentDuration uint64
	if haveSegment {
		segmentDuration = wrapDelta(e.runFirstPTS, e.runLastPTS) + e.nominalFrameDurationPTS
		e.globalPTSOffset, e.globalPCROffset = rebase.Advance(e.globalPTSOffset, e.globalPCROffset, segmentDuration)
	}
	e.haveRunFirstPTS = false
	e.haveRunLastPTS = false
	gp, gc := e.globalPTSOffset, e.globalPCROffset
	e.mu.Unlock()

	e.applyGlobalOffsets(to, gp, gc)

	if e.notifier == nil {
		return
	}
	switch to {
	case switcher.StateLive:
		e.notifier.NotifyLive(time.Now())
	case switcher.StateFallback, switcher.StatePrivacyForcedFallback:
		e.notifier.NotifyFallback(time.Now())
	}
}

// applyGlobalOffsets pushes the current global PTS/PCR offsets into the
// rebaser of whichever source state now designates, if it has been armed.
func (e *Engine) applyGlobalOffsets(state switcher.State, pts, pcr uint64) {
	target := e.sourceForState(state)
	if target == nil {
		return
	}
	target.mu.Lock()
	if target.rebaser != nil {
		target.rebaser.SetGlobalOffsets(pts, pcr)
	}
	target.mu.Unlock()
}

// sourceForState returns the source that selectSource would pick for the
// given switch state, absent a manual override.
func (e *Engine) sourceForState(state switcher.State) *source {
	switch state {
	case switcher.StateLive:
		if len(e.sources) > 0 {
			return e.sources[0]
		}
	case switcher.StateFallback, switcher.StatePrivacyForcedFallback:
		if len(e.sources) > 1 {
			return e.sources[1]
		}
		if len(e.sources) > 0 {
			return e.sources[0]
		}
	}
	return nil
}

// recordRunPTS tracks the first and most recent rebased video PTS emitted
// during the current active run, consumed by onTransition to estimate
// segment_duration_pts across the next switch.
func (e *Engine) recordRunPTS(pts uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.haveRunFirstPTS {
		e.runFirstPTS = pts
		e.haveRunFirstPTS = true
	}
	e.runLastPTS = pts
	e.haveRunLastPTS = true
}

// adoptTarget resolves the engine's current output PID assignment, adopting
// candidate (s's own discovered PIDs) if no target has been set yet, or if s
// is the live candidate and the current target came from fallback rather
// than live. It returns the resulting target and retargets every
// already-armed source's mapper if it changed.
func (e *Engine) adoptTarget(s *source, info psi.StreamInfo) pidmap.SourcePIDs {
	candidate := pidmap.SourcePIDs{PMT: info.PMTPID, Video: info.VideoPID, Audio: info.AudioPID}
	isLive := e.isLiveCandidate(s)

	e.mu.Lock()
	changed := false
	switch {
	case !e.haveTarget:
		e.targetPIDs = candidate
		e.haveTarget = true
		e.targetIsLive = isLive
		changed = true
	case isLive && !e.targetIsLive:
		e.targetPIDs = candidate
		e.targetIsLive = true
		changed = true
	}
	target := e.targetPIDs
	e.mu.Unlock()

	if changed {
		e.retargetMappers(target)
	}
	return target
}

// retargetMappers updates every already-armed source's PID mapper to emit
// onto target. Each source's lock is acquired independently; e.mu is never
// held while doing so.
func (e *Engine) retargetMappers(target pidmap.SourcePIDs) {
	for _, other := range e.sources {
		other.mu.Lock()
		if other.mapper != nil {
			other.mapper.SetTarget(target)
		}
		other.mu.Unlock()
	}
}

// Start launches ingest, feeder and output goroutines. It returns once
// every goroutine has been started; call Wait or cancel ctx to stop.
func (e *Engine) Start(ctx context.Context) {
	for _, s := range e.sources {
		s := s
		e.wg.Add(2)
		go func() {
			defer e.wg.Done()
			s.driver.Run(ctx, s.queue)
		}()
		go func() {
			defer e.wg.Done()
			e.feed(ctx, s)
		}()
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.outputLoop(ctx)
	}()
	e.mu.Lock()
	e.healthy = true
	e.mu.Unlock()
}

// Wait blocks until every engine goroutine has exited.
func (e *Engine) Wait() { e.wg.Wait() }

// feed drains one source's queue, classifying each packet into its
// psi.Analyzer and sourcebuf.Buffer, capturing its timestamp bases from the
// first packets that carry them, arming the source once those bases are
// captured and it is media-ready, and advancing
// the switch controller's hysteresis counter when this is the
// currently-selected live candidate.
func (e *Engine) feed(ctx context.Context, s *source) {
	for {
		raw, ok := s.queue.Pop()
		if !ok {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
		p, err := tspacket.Parse(raw[:])
		if err != nil {
			continue
		}
		s.analyzer.Observe(p)
		info := s.analyzer.Info()
		if !info.Initialized {
			continue
		}
		s.buf.Push(p, info.VideoPID, info.AudioPID)
		if p.PID() == info.AudioPID && p.PUSI() {
			s.buf.MarkAudioSync()
		}

		s.mu.Lock()
		readyToArm := !s.haveBases
		if readyToArm {
			s.captureBases(p, info)
			readyToArm = info.MediaReady() && s.basesReady()
		}
		s.mu.Unlock()

		if readyToArm {
			e.armSource(s, info)
		}

		if e.isLiveCandidate(s) && info.MediaReady() {
			e.sw.ObserveLivePacket(time.Now(), s.buf.Ready())
		}
	}
}

// armSource finalizes a source's rebaser and PID mapper once its timestamp
// bases have been captured and the engine's output target PIDs are known.
// e.mu and s.mu are acquired in separate, non-overlapping critical
// sections, never nested, to avoid deadlocking against the output loop.
func (e *Engine) armSource(s *source, info psi.StreamInfo) {
	target := e.adoptTarget(s, info)

	e.mu.Lock()
	gp, gc := e.globalPTSOffset, e.globalPCROffset
	e.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.haveBases {
		return
	}
	s.rebaser = rebase.New(s.bases, gp, gc)
	s.mapper = pidmap.New(target)
	s.mapper.SetSource(pidmap.SourcePIDs{PMT: info.PMTPID, Video: info.VideoPID, Audio: info.AudioPID})
	s.haveBases = true
}

// isLiveCandidate reports whether s is the non-fallback source the switch
// controller is currently evaluating. The first configured source is
// treated as the live candidate and every other configured source as
// fallback, per spec.md §2's two/three-source model.
func (e *Engine) isLiveCandidate(s *source) bool {
	return len(e.sources) > 0 && e.sources[0] == s
}

// outputLoop selects the active source each tick, rewrites its next queued
// packet, and writes it to the sink.
func (e *Engine) outputLoop(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			e.sw.CheckFreshness(now)
			e.emitFromActive()
		}
	}
}

// emitFromActive writes the next packet from the currently selected source
// to the sink. When the selected source differs from the previous tick's, it
// first joins the new run at a clean switch point via armNewRun rather than
// resuming Consume from wherever that source's cursor last was, per
// spec.md §4.7's steps 4-6.
func (e *Engine) emitFromActive() {
	s := e.selectSource()
	if s == nil {
		return
	}
	s.mu.Lock()
	ready := s.haveBases
	s.mu.Unlock()
	if !ready {
		return
	}

	if s.name != e.activeName {
		e.activeName = s.name
		e.armNewRun(s)
		return
	}

	raw, ok := s.buf.Consume()
	if !ok {
		return
	}
	e.rewriteAndEmit(s, raw)
}

// armNewRun joins s's stream at the freshest clean switch point still held,
// falling back to the first clean switch point the buffer recorded if that
// one is still retained, and replays every packet from that point through
// the sink so the output carries no gap across the switch. Taking the
// snapshot leaves s.buf's consume cursor armed just past the replayed burst
// for subsequent steady-state emission; if neither snapshot is available,
// nothing is emitted and the cursor is left as it was.
func (e *Engine) armNewRun(s *source) {
	pkts, ok := s.buf.SnapshotFromLatestIDR()
	if !ok {
		pkts, ok = s.buf.SnapshotFromFirstIDR()
	}
	if !ok {
		return
	}
	for _, raw := range pkts {
		e.rewriteAndEmit(s, raw)
	}
}

// rewriteAndEmit remaps raw's PID and continuity counter onto the output
// timeline, rebases its PTS/DTS/PCR, writes it to the sink, and feeds the
// output monitor and run-PTS tracking used by onTransition.
func (e *Engine) rewriteAndEmit(s *source, raw [tspacket.Size]byte) {
	p, err := tspacket.Parse(raw[:])
	if err != nil {
		return
	}

	s.mu.Lock()
	videoPID, audioPID := s.mapper.TargetVideoPID(), s.mapper.TargetAudioPID()
	mapped := s.mapper.Rewrite(p)
	if mapped && p.HasPayload() {
		if payload, err := p.Payload(); err == nil {
			if p.PID() == videoPID {
				s.rebaser.RewriteVideo(payload)
			} else if p.PID() == audioPID {
				s.rebaser.RewriteAudio(payload)
			}
		}
		s.rebaser.RewritePCR(p)
	}
	s.mu.Unlock()

	if !mapped {
		return
	}
	if err := e.sink.Write(raw); err != nil {
		e.log.Error("sink write failed", "error", err.Error())
	}
	if p.PID() == videoPID && p.HasPayload() {
		if payload, err := p.Payload(); err == nil {
			if pts, err := tspacket.GetPTS(payload); err == nil {
				e.mon.ObservePTS(p.PID(), pts, time.Now())
				e.recordRunPTS(pts)
			}
		}
	}
	if pcr, err := p.PCR(); err == nil {
		e.mon.ObservePCR(pcr, time.Now())
	}
}

// selectSource returns the source currently authoritative for output: the
// manually forced input if one is set, otherwise the live candidate if the
// switch controller considers it live, otherwise the configured fallback.
func (e *Engine) selectSource() *source {
	e.mu.Lock()
	manual := e.manualInput
	e.mu.Unlock()
	if manual != "" {
		for _, s := range e.sources {
			if s.name == manual {
				return s
			}
		}
	}
	if len(e.sources) == 0 {
		return nil
	}
	if e.sw.State() == switcher.StateLive {
		return e.sources[0]
	}
	if len(e.sources) > 1 {
		return e.sources[1]
	}
	return e.sources[0]
}

// SetPrivacy implements control.Engine.
func (e *Engine) SetPrivacy(asserted bool) {
	e.mu.Lock()
	e.privacyAsserted = asserted
	e.mu.Unlock()
	if asserted {
		e.sw.AssertPrivacy()
	} else {
		e.sw.ReleasePrivacy()
	}
}

// PrivacyAsserted implements control.Engine.
func (e *Engine) PrivacyAsserted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.privacyAsserted
}

// SetManualInput implements control.Engine.
func (e *Engine) SetManualInput(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if name == "" {
		e.manualInput = ""
		return nil
	}
	for _, s := range e.sources {
		if s.name == name {
			e.manualInput = name
			return nil
		}
	}
	return errUnknownSource(name)
}

// ManualInput implements control.Engine.
func (e *Engine) ManualInput() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.manualInput
}

// MetricsHandler returns an HTTP handler serving the output monitor's
// Prometheus metrics, for mounting under /metrics by the command entry
// point.
func (e *Engine) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(e.mon.Registry(), promhttp.HandlerOpts{})
}

// Healthy implements control.Engine.
func (e *Engine) Healthy() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.healthy
}

type errUnknownSource string

func (e errUnknownSource) Error() string { return "engine: unknown source " + string(e) }
