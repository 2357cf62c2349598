/*
NAME
  sourcebuf.go - bounded ring buffer of recently received packets for one
  ingest source, with the indices needed to snapshot a clean join point.

DESCRIPTION
  The teacher's senders (revid/senders.go) hand buffered payloads to a
  pool.Buffer for bounded, backpressure-aware delivery; SourceBuffer adapts
  that mutex-guarded bounded-buffer idiom to a different problem: instead of
  draining oldest-to-newest for delivery, readers need to locate a specific
  join point (the latest clean IDR, or the first one recorded) and copy forward
  from there, per spec.md §4.3. pool.Buffer itself lives in the unvendored
  github.com/ausocean/utils module, so the ring here is implemented directly
  against sync.Mutex/sync.Cond, matching revid's mutex+condition-variable
  style elsewhere (see revid/revid.go's wait/notify lifecycle).

LICENSE
  See repository LICENSE.
*/

// Package sourcebuf holds a bounded history of recently ingested TS packets
// for a single source, tracking the indices needed to join the stream
// cleanly at an IDR or an audio sync point.
package sourcebuf

import (
	"sync"

	"github.com/aolab/tsmux/nal"
	"github.com/aolab/tsmux/tspacket"
)

// entry is one slot in the ring: a copy of the packet's raw bytes plus the
// classification needed to find join points.
type entry struct {
	raw      [tspacket.Size]byte
	videoPID uint16
	isIDR    bool
	isClean  bool // IDR with SPS/PPS also present (nal.FrameInfo.IsCleanSwitchPoint).
	isAudio  bool
}

// Buffer is a fixed-capacity ring of the most recently observed packets from
// one source, plus cursors into it.
type Buffer struct {
	mu   sync.Mutex
	cond *sync.Cond

	entries []entry
	cap     int
	head    int // Index the next Push will write to.
	size    int // Number of valid entries currently held (<= cap).
	total   int // Monotonic count of all packets ever pushed.

	// firstIDR/latestIDR/audioSync are indices into total-packet space (not
	// ring-relative), -1 when unknown. Overwritten entries make a cursor
	// stale; callers must check it is still within [total-size, total).
	firstIDRTotal   int
	latestIDRTotal  int
	audioSyncTotal  int
	consumeCursor   int // Next total index Consume will emit.
	consumeArmed    bool
	auStartTotal    int // Total index of the packet that opened the access unit being scanned.

	scanner *nal.Scanner
}

// New returns a Buffer holding up to capacity packets.
func New(capacity int) *Buffer {
	b := &Buffer{
		entries:        make([]entry, capacity),
		cap:            capacity,
		firstIDRTotal:  -1,
		latestIDRTotal: -1,
		audioSyncTotal: -1,
		scanner:        nal.NewScanner(),
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Push appends a packet to the ring, discarding the oldest entry if full,
// and updates join-point cursors using videoPID/audioPID to classify it.
func (b *Buffer) Push(p tspacket.Packet, videoPID, audioPID uint16) {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx := b.head
	e := &b.entries[idx]
	copy(e.raw[:], p.Raw)
	e.videoPID = p.PID()
	e.isAudio = p.PID() == audioPID
	e.isIDR = false
	e.isClean = false

	if p.PID() == videoPID {
		payload, err := p.Payload()
		if err == nil && p.HasPayload() {
			fi, ok := b.scanner.Feed(payload, p.PUSI())
			if ok {
				b.markJoinPoints(fi)
			}
			if ok || p.PUSI() {
				b.auStartTotal = b.total
			}
		}
	}

	b.head = (b.head + 1) % b.cap
	if b.size < b.cap {
		b.size++
	}
	b.total++
	b.cond.Broadcast()
}

// markJoinPoints updates the IDR cursors to point at the access unit that
// was just classified. Because classification completes one access unit
// late (see nal.Scanner.Feed), the join point is recorded against
// auStartTotal, the position where that access unit's opening packet
// landed. Only a clean switch point (IDR with SPS/PPS also present) advances
// the cursors a reader may snapshot from; a bare IDR missing its parameter
// sets is recorded on the entry but never becomes a join point.
func (b *Buffer) markJoinPoints(fi nal.FrameInfo) {
	if !fi.IsIDR {
		return
	}
	pos := b.auStartTotal // The packet that opened this (now-closed) AU.
	if pos < b.oldestTotal() || pos >= b.total {
		return
	}
	e := b.entryAt(pos)
	e.isIDR = true
	if !fi.IsCleanSwitchPoint() {
		return
	}
	e.isClean = true
	if b.firstIDRTotal < 0 {
		b.firstIDRTotal = pos
	}
	b.latestIDRTotal = pos
}

// MarkAudioSync records the current write position as a valid audio sync
// point, called by the ingest path when it observes a payload-bearing PUSI
// packet on the audio PID.
func (b *Buffer) MarkAudioSync() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.audioSyncTotal = b.total
}

// oldestTotal is the total index of the oldest entry still held.
func (b *Buffer) oldestTotal() int { return b.total - b.size }

// Ready reports whether the buffer currently holds a clean switch point
// (the entry marked isClean by markJoinPoints) still within its retained
// window.
func (b *Buffer) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.latestIDRTotal < b.oldestTotal() || b.latestIDRTotal >= b.total {
		return false
	}
	return b.entryAt(b.latestIDRTotal).isClean
}

// SnapshotFromLatestIDR copies every retained packet from the most recent
// IDR join point to the current head, in order, for use as the initial
// or post-switch emission burst. ok is false if no IDR point is currently
// held within the retained window.
func (b *Buffer) SnapshotFromLatestIDR() (pkts [][tspacket.Size]byte, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotFromTotal(b.latestIDRTotal)
}

// SnapshotFromFirstIDR is identical to SnapshotFromLatestIDR but starts at
// the first clean IDR join point the buffer ever recorded; ok is false once
// that entry has been overwritten.
func (b *Buffer) SnapshotFromFirstIDR() (pkts [][tspacket.Size]byte, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotFromTotal(b.firstIDRTotal)
}

func (b *Buffer) snapshotFromTotal(fromTotal int) ([][tspacket.Size]byte, bool) {
	if fromTotal < 0 || fromTotal < b.oldestTotal() || fromTotal >= b.total {
		return nil, false
	}
	n := b.total - fromTotal
	out := make([][tspacket.Size]byte, 0, n)
	for t := fromTotal; t < b.total; t++ {
		out = append(out, b.entryAt(t).raw)
	}
	b.consumeCursor = b.total
	b.consumeArmed = true
	return out, true
}

// entryAt maps a total packet index to its ring slot. Caller must hold mu
// and have verified the index is within the retained window.
func (b *Buffer) entryAt(total int) *entry {
	offsetFromHead := b.total - total // >=1
	idx := (b.head - offsetFromHead%b.cap + b.cap) % b.cap
	return &b.entries[idx]
}

// InitConsumeFrom arms the consume cursor at an arbitrary total index,
// typically the point right after a snapshot already emitted.
func (b *Buffer) InitConsumeFrom(total int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consumeCursor = total
	b.consumeArmed = true
}

// Consume returns the next unread packet for steady-state emission, or ok
// false if the consume cursor has caught up to the write head.
func (b *Buffer) Consume() (pkt [tspacket.Size]byte, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.consumeArmed || b.consumeCursor >= b.total {
		return pkt, false
	}
	if b.consumeCursor < b.oldestTotal() {
		// Overrun: the reader fell behind far enough that the packet it
		// wanted has already been discarded. Jump forward to the oldest
		// retained packet rather than returning stale data.
		b.consumeCursor = b.oldestTotal()
	}
	e := b.entryAt(b.consumeCursor)
	pkt = e.raw
	b.consumeCursor++
	return pkt, true
}

// Len returns the number of packets currently retained.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}
