package sourcebuf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aolab/tsmux/tspacket"
)

const videoPID, audioPID = 0x100, 0x101

func videoPacket(t *testing.T, pusi bool, nalPayload []byte) tspacket.Packet {
	t.Helper()
	raw := make([]byte, tspacket.Size)
	raw[0] = tspacket.SyncByte
	if pusi {
		raw[1] = 0x40
	}
	raw[1] |= byte(videoPID >> 8 & 0x1F)
	raw[2] = byte(videoPID)
	raw[3] = tspacket.AFCPayloadOnly
	copy(raw[4:], nalPayload)
	p, err := tspacket.Parse(raw)
	require.NoError(t, err)
	return p
}

func TestPushAndSnapshotFromLatestIDR(t *testing.T) {
	b := New(8)

	idr := []byte{0x00, 0x00, 0x01, 0x07, 0x00, 0x00, 0x01, 0x08, 0x00, 0x00, 0x01, 0x05}
	b.Push(videoPacket(t, true, idr), videoPID, audioPID)
	b.Push(videoPacket(t, true, []byte{0x00, 0x00, 0x01, 0x01}), videoPID, audioPID)
	b.Push(videoPacket(t, true, []byte{0x00, 0x00, 0x01, 0x01}), videoPID, audioPID)

	assert.True(t, b.Ready())
	pkts, ok := b.SnapshotFromLatestIDR()
	require.True(t, ok)
	assert.GreaterOrEqual(t, len(pkts), 1)
}

func TestIDRWithoutParameterSetsIsNotReady(t *testing.T) {
	b := New(8)

	// A bare IDR with no SPS/PPS observed yet anywhere in the stream must not
	// become a join point a reader can snapshot from.
	bareIDR := []byte{0x00, 0x00, 0x01, 0x05}
	b.Push(videoPacket(t, true, bareIDR), videoPID, audioPID)
	b.Push(videoPacket(t, true, []byte{0x00, 0x00, 0x01, 0x01}), videoPID, audioPID)

	assert.False(t, b.Ready())
	_, ok := b.SnapshotFromLatestIDR()
	assert.False(t, ok)
}

func TestConsumeAdvancesAndOverrunsGracefully(t *testing.T) {
	b := New(2)
	idr := []byte{0x00, 0x00, 0x01, 0x07, 0x00, 0x00, 0x01, 0x08, 0x00, 0x00, 0x01, 0x05}
	b.Push(videoPacket(t, true, idr), videoPID, audioPID)
	b.InitConsumeFrom(0)

	b.Push(videoPacket(t, true, []byte{0x00, 0x00, 0x01, 0x01}), videoPID, audioPID)
	b.Push(videoPacket(t, true, []byte{0x00, 0x00, 0x01, 0x01}), videoPID, audioPID)
	b.Push(videoPacket(t, true, []byte{0x00, 0x00, 0x01, 0x01}), videoPID, audioPID)

	// Capacity is 2, so index 0 has been overwritten; Consume should jump
	// forward instead of returning stale data.
	_, ok := b.Consume()
	require.True(t, ok)
	assert.Equal(t, 2, b.Len())
}
