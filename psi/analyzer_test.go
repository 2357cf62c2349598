package psi

import (
	"encoding/binary"
	"hash/crc32"
	"math/bits"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aolab/tsmux/tspacket"
)

// crc32MPEG2 computes the non-reflected CRC-32/MPEG-2 checksum ISO/IEC
// 13818-1 PSI sections use, the same table construction container/mts/psi's
// crc.go builds from crc32.IEEE's reversed polynomial.
func crc32MPEG2(b []byte) uint32 {
	tab := crc32MPEG2Table()
	crc := uint32(0xFFFFFFFF)
	for _, v := range b {
		crc = tab[byte(crc>>24)^v] ^ (crc << 8)
	}
	return crc
}

func crc32MPEG2Table() *[256]uint32 {
	poly := bits.Reverse32(crc32.IEEE)
	var t [256]uint32
	for i := range t {
		crc := uint32(i) << 24
		for j := 0; j < 8; j++ {
			if crc&0x80000000 != 0 {
				crc = (crc << 1) ^ poly
			} else {
				crc <<= 1
			}
		}
		t[i] = crc
	}
	return &t
}

// buildSection assembles a PSI section from its table ID and the bytes that
// follow the section_length field (table_id_extension onward), appending a
// freshly computed CRC.
func buildSection(tableID byte, body []byte) []byte {
	length := len(body) + 4 // + CRC
	sec := make([]byte, 0, 3+len(body)+4)
	sec = append(sec, tableID)
	sec = append(sec, 0xB0|byte(length>>8&0x0F), byte(length))
	sec = append(sec, body...)
	sec = append(sec, 0, 0, 0, 0)
	binary.BigEndian.PutUint32(sec[len(sec)-4:], crc32MPEG2(sec[:len(sec)-4]))
	return sec
}

// tsPacketWithPayload wraps payload in a single payload-bearing, PUSI-set TS
// packet on pid, padded with 0xFF stuffing bytes.
func tsPacketWithPayload(pid uint16, payload []byte) [tspacket.Size]byte {
	var raw [tspacket.Size]byte
	raw[0] = tspacket.SyncByte
	raw[1] = 0x40 | byte(pid>>8&0x1F)
	raw[2] = byte(pid)
	raw[3] = tspacket.AFCPayloadOnly
	n := copy(raw[4:], payload)
	for i := 4 + n; i < tspacket.Size; i++ {
		raw[i] = 0xFF
	}
	return raw
}

// patPacket builds a single-program PAT packet mapping programNumber to
// pmtPID.
func patPacket(programNumber, pmtPID uint16) [tspacket.Size]byte {
	body := []byte{
		0x00, 0x01, // transport_stream_id
		0xC1,       // reserved|version|current_next_indicator
		0x00, 0x00, // section_number, last_section_number
		byte(programNumber >> 8), byte(programNumber),
		0xE0 | byte(pmtPID>>8&0x1F), byte(pmtPID),
	}
	section := buildSection(0x00, body)
	payload := append([]byte{0x00}, section...) // pointer_field
	return tsPacketWithPayload(tspacket.PIDPAT, payload)
}

// multiProgramPATPacket builds a PAT describing two programs, which
// observePAT must reject since only single-program streams are supported.
func multiProgramPATPacket() [tspacket.Size]byte {
	body := []byte{
		0x00, 0x01,
		0xC1,
		0x00, 0x00,
		0x00, 0x01, 0xE0, 0x20, // program 1 -> PMT PID 0x20
		0x00, 0x02, 0xE0, 0x21, // program 2 -> PMT PID 0x21
	}
	section := buildSection(0x00, body)
	payload := append([]byte{0x00}, section...)
	return tsPacketWithPayload(tspacket.PIDPAT, payload)
}

// pmtPacket builds a PMT packet declaring one video and one audio elementary
// stream.
func pmtPacket(pmtPID, programNumber, pcrPID, videoPID, audioPID uint16) [tspacket.Size]byte {
	body := []byte{
		byte(programNumber >> 8), byte(programNumber),
		0xC1,
		0x00, 0x00,
		0xE0 | byte(pcrPID>>8&0x1F), byte(pcrPID),
		0xF0, 0x00, // reserved|program_info_length (0)
		StreamTypeAVC, 0xE0 | byte(videoPID>>8&0x1F), byte(videoPID), 0xF0, 0x00,
		StreamTypeADTSAAC, 0xE0 | byte(audioPID>>8&0x1F), byte(audioPID), 0xF0, 0x00,
	}
	section := buildSection(0x02, body)
	payload := append([]byte{0x00}, section...)
	return tsPacketWithPayload(pmtPID, payload)
}

func mustPacket(t *testing.T, raw [tspacket.Size]byte) tspacket.Packet {
	t.Helper()
	p, err := tspacket.Parse(raw[:])
	require.NoError(t, err)
	return p
}

func pesStartPacket(t *testing.T, pid uint16, streamID byte) tspacket.Packet {
	t.Helper()
	payload := []byte{0x00, 0x00, 0x01, streamID, 0x00, 0x00, 0x80, 0x00, 0x00}
	raw := tsPacketWithPayload(pid, payload)
	return mustPacket(t, raw)
}

const (
	testProgramNumber = 1
	testPMTPID        = 0x20
	testPCRPID        = 0x21
	testVideoPID      = 0x21
	testAudioPID      = 0x22
)

func resolvedAnalyzer(t *testing.T) *Analyzer {
	t.Helper()
	a := NewAnalyzer()
	a.Observe(mustPacket(t, patPacket(testProgramNumber, testPMTPID)))
	a.Observe(mustPacket(t, pmtPacket(testPMTPID, testProgramNumber, testPCRPID, testVideoPID, testAudioPID)))
	require.True(t, a.Info().Initialized)
	return a
}

func TestObservePATResolvesSingleProgramPMTPID(t *testing.T) {
	a := NewAnalyzer()
	a.Observe(mustPacket(t, patPacket(testProgramNumber, testPMTPID)))

	info := a.Info()
	assert.Equal(t, uint16(testPMTPID), info.PMTPID)
	assert.Equal(t, uint16(testProgramNumber), info.ProgramNumber)
	assert.False(t, info.Initialized, "PAT alone must not mark the stream initialized")
}

func TestObservePATIgnoresMultiProgramPAT(t *testing.T) {
	a := NewAnalyzer()
	a.Observe(mustPacket(t, multiProgramPATPacket()))

	assert.Equal(t, uint16(0), a.Info().PMTPID, "a multi-program PAT must be silently ignored")
}

func TestObservePATDropsMalformedSection(t *testing.T) {
	a := NewAnalyzer()
	raw := patPacket(testProgramNumber, testPMTPID)
	// Corrupt the trailing CRC byte so the section fails validation: the
	// 16-byte section follows the 4-byte TS header and the pointer_field.
	raw[4+1+16-1] ^= 0xFF
	a.Observe(mustPacket(t, raw))

	assert.Equal(t, uint16(0), a.Info().PMTPID, "a PAT with a bad CRC must be dropped, not partially applied")
}

func TestObservePMTResolvesVideoAudioAndPCRPIDs(t *testing.T) {
	a := resolvedAnalyzer(t)

	info := a.Info()
	assert.True(t, info.Initialized)
	assert.Equal(t, uint16(testVideoPID), info.VideoPID)
	assert.Equal(t, uint16(testAudioPID), info.AudioPID)
	assert.Equal(t, uint16(testPCRPID), info.PCRPID)
	assert.Equal(t, uint8(StreamTypeAVC), info.VideoStreamType)
	assert.Equal(t, uint8(StreamTypeADTSAAC), info.AudioStreamType)
}

func TestObservePMTDropsMalformedSection(t *testing.T) {
	a := NewAnalyzer()
	a.Observe(mustPacket(t, patPacket(testProgramNumber, testPMTPID)))

	raw := pmtPacket(testPMTPID, testProgramNumber, testPCRPID, testVideoPID, testAudioPID)
	// Corrupt the trailing CRC byte of the 26-byte section.
	raw[4+1+26-1] ^= 0xFF
	a.Observe(mustPacket(t, raw))

	assert.False(t, a.Info().Initialized, "a PMT with a bad CRC must be dropped, not partially applied")
}

func TestMediaReadyRequiresThresholdOnBothStreams(t *testing.T) {
	a := resolvedAnalyzer(t)

	for i := 0; i < readyMediaCount-1; i++ {
		a.Observe(pesStartPacket(t, testVideoPID, 0xE0))
		a.Observe(pesStartPacket(t, testAudioPID, 0xC0))
	}
	assert.False(t, a.Info().MediaReady(), "one packet short of the threshold on both streams must not be ready")

	a.Observe(pesStartPacket(t, testVideoPID, 0xE0))
	a.Observe(pesStartPacket(t, testAudioPID, 0xC0))
	assert.True(t, a.Info().MediaReady())
}

func TestMediaReadyRequiresBothVideoAndAudio(t *testing.T) {
	a := resolvedAnalyzer(t)

	for i := 0; i < readyMediaCount+2; i++ {
		a.Observe(pesStartPacket(t, testVideoPID, 0xE0))
	}
	assert.False(t, a.Info().MediaReady(), "video alone clearing the threshold must not be enough")
}

func TestCountPESStartIgnoresNonStartPayloads(t *testing.T) {
	a := resolvedAnalyzer(t)

	// A payload that does not begin with a PES start code must not count,
	// even though it carries a payload on the video PID.
	raw := tsPacketWithPayload(testVideoPID, []byte{0x01, 0x02, 0x03})
	a.Observe(mustPacket(t, raw))

	assert.Equal(t, 0, a.Info().ValidVideoCount)
}
