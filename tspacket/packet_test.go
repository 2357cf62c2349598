package tspacket

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func blankPacket(pid uint16, afc byte, cc byte) []byte {
	b := make([]byte, Size)
	b[0] = SyncByte
	b[1] = byte(pid >> 8 & 0x1F)
	b[2] = byte(pid)
	b[3] = afc<<4 | cc&0x0F
	return b
}

func TestParseRejectsBadInput(t *testing.T) {
	_, err := Parse(make([]byte, Size-1))
	assert.ErrorIs(t, err, ErrShortPacket)

	bad := make([]byte, Size)
	_, err = Parse(bad)
	assert.ErrorIs(t, err, ErrBadSync)
}

func TestPIDRoundTrip(t *testing.T) {
	raw := blankPacket(0x1FFE, AFCPayloadOnly, 3)
	p, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x1FFE), p.PID())

	p.SetPID(0x0100)
	assert.Equal(t, uint16(0x0100), p.PID())
	assert.Equal(t, byte(3), p.CC())
}

func TestCCRoundTrip(t *testing.T) {
	raw := blankPacket(0x0100, AFCPayloadOnly, 0)
	p, err := Parse(raw)
	require.NoError(t, err)
	for cc := byte(0); cc < 20; cc++ {
		p.SetCC(cc)
		assert.Equal(t, cc&0x0F, p.CC())
	}
}

func TestPayloadOffsetNoAdaptation(t *testing.T) {
	raw := blankPacket(0x0100, AFCPayloadOnly, 0)
	p, err := Parse(raw)
	require.NoError(t, err)
	payload, err := p.Payload()
	require.NoError(t, err)
	assert.Equal(t, Size-4, len(payload))
}

func TestPCRRoundTrip(t *testing.T) {
	raw := blankPacket(0x0100, AFCAdaptationPayload, 0)
	raw[4] = 183 // adaptation_field_length covering rest of packet.
	raw[5] = maskAFPCRFlag
	p, err := Parse(raw)
	require.NoError(t, err)
	require.True(t, p.HasPCR())

	want := uint64(1)<<32 | 12345
	want &= (1 << 33) - 1
	require.NoError(t, p.SetPCR(want))
	got, err := p.PCR()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestPESTimestampRoundTrip(t *testing.T) {
	payload := make([]byte, 14)
	payload[0], payload[1], payload[2] = 0x00, 0x00, 0x01
	payload[3] = 0xE0
	payload[pesFlags2Idx] = PTSDTSBoth << 6
	payload[pesHeaderLenIdx] = 10

	const pts, dts = uint64(90000), uint64(86997)
	require.NoError(t, SetPTS(payload, pts))
	require.NoError(t, SetDTS(payload, dts))

	gotPTS, err := GetPTS(payload)
	require.NoError(t, err)
	assert.Equal(t, pts, gotPTS)

	gotDTS, err := GetDTS(payload)
	require.NoError(t, err)
	assert.Equal(t, dts, gotDTS)
}

func TestPESTimestampWrap(t *testing.T) {
	payload := make([]byte, 14)
	payload[0], payload[1], payload[2] = 0x00, 0x00, 0x01
	payload[pesFlags2Idx] = PTSDTSPTSOnly << 6

	const max33 = uint64(1)<<33 - 1
	require.NoError(t, SetPTS(payload, max33))
	got, err := GetPTS(payload)
	require.NoError(t, err)
	assert.Equal(t, max33, got)
}
