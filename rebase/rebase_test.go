package rebase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aolab/tsmux/tspacket"
)

func pesPayload(t *testing.T, pts uint64) []byte {
	t.Helper()
	p := make([]byte, 14)
	p[0], p[1], p[2] = 0x00, 0x00, 0x01
	p[3] = 0xE0
	p[7] = tspacket.PTSDTSPTSOnly << 6
	p[8] = 5
	require.NoError(t, tspacket.SetPTS(p, pts))
	return p
}

func TestRewriteVideoAppliesSourceBaseAndGlobalOffset(t *testing.T) {
	bases := TimestampBases{PTSBase: 1000}
	r := New(bases, 50000, 0)

	payload := pesPayload(t, 1500)
	require.NoError(t, r.RewriteVideo(payload))

	got, err := tspacket.GetPTS(payload)
	require.NoError(t, err)
	assert.Equal(t, uint64(1500-1000+50000), got)
}

func TestAdvanceCarriesOffsetForward(t *testing.T) {
	nextPTS, nextPCR := Advance(1000, 2000, 3003)
	assert.Equal(t, uint64(4003), nextPTS)
	// PCR runs at 27MHz against PTS's 90kHz, so the PCR offset advances by
	// 300x the PTS delta.
	assert.Equal(t, uint64(2000+3003*300), nextPCR)
}

func TestAdvanceWrapsModulo33Bits(t *testing.T) {
	const max33 = uint64(1)<<33 - 1
	nextPTS, nextPCR := Advance(max33, max33, 10)
	assert.Equal(t, uint64(9), nextPTS)
	assert.Equal(t, uint64(10*300-1), nextPCR)
}

func TestSetGlobalOffsetsAffectsSubsequentRewrites(t *testing.T) {
	r := New(TimestampBases{PTSBase: 1000}, 0, 0)
	r.SetGlobalOffsets(50000, 0)

	payload := pesPayload(t, 1500)
	require.NoError(t, r.RewriteVideo(payload))

	got, err := tspacket.GetPTS(payload)
	require.NoError(t, err)
	assert.Equal(t, uint64(1500-1000+50000), got)
}

func TestRewritePESWrapsModulo33Bits(t *testing.T) {
	bases := TimestampBases{PTSBase: 0}
	const max33 = uint64(1)<<33 - 1
	r := New(bases, max33, 0)

	payload := pesPayload(t, 10)
	require.NoError(t, r.RewriteVideo(payload))
	got, err := tspacket.GetPTS(payload)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), got) // (10 + (2^33-1)) mod 2^33 == 9
}
