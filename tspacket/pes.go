package tspacket

import "errors"

// PES header field offsets, relative to the start of the PES payload (i.e.
// the first byte of the packet_start_code_prefix 00 00 01).
const (
	pesStreamIDIdx   = 3
	pesFlags1Idx     = 6
	pesFlags2Idx     = 7
	pesHeaderLenIdx  = 8
	pesOptionalStart = 9
)

// PTS_DTS_flags values (bits 7-6 of pesFlags2Idx).
const (
	PTSDTSNone    = 0x0
	PTSDTSForbid  = 0x1
	PTSDTSPTSOnly = 0x2
	PTSDTSBoth    = 0x3
)

var (
	ErrNotPESStart    = errors.New("tspacket: payload does not begin a PES packet")
	ErrNoTimestamp    = errors.New("tspacket: PES header carries no PTS/DTS")
	ErrShortPESHeader = errors.New("tspacket: PES header too short")
)

// IsPESStart reports whether payload begins a PES packet, i.e. starts with
// the 00 00 01 start code prefix. The caller is responsible for having
// already checked PUSI.
func IsPESStart(payload []byte) bool {
	return len(payload) >= 3 && payload[0] == 0x00 && payload[1] == 0x00 && payload[2] == 0x01
}

// StreamID returns the PES stream_id byte (e.g. 0xE0 for video, 0xC0 for
// audio), given a payload that begins a PES packet.
func StreamID(payload []byte) (byte, error) {
	if !IsPESStart(payload) || len(payload) <= pesStreamIDIdx {
		return 0, ErrNotPESStart
	}
	return payload[pesStreamIDIdx], nil
}

// PTSDTSFlags returns the 2-bit PTS_DTS_flags field of a PES header.
func PTSDTSFlags(payload []byte) (byte, error) {
	if !IsPESStart(payload) || len(payload) <= pesFlags2Idx {
		return 0, ErrNotPESStart
	}
	return (payload[pesFlags2Idx] >> 6) & 0x3, nil
}

// extractTimestamp decodes the 33-bit timestamp from a 5-byte PTS/DTS field,
// skipping the 4-bit marker (0010 for a lone PTS, 0011 for the PTS of a
// PTS+DTS pair, 0001 for the trailing DTS) and the marker bits between groups.
func extractTimestamp(d []byte) uint64 {
	return uint64(d[0]>>1&0x07)<<30 | uint64(d[1])<<22 | uint64(d[2]>>1&0x7f)<<15 | uint64(d[3])<<7 | uint64(d[4]>>1&0x7f)
}

// insertTimestamp writes a 33-bit timestamp into a 5-byte field with the
// given 4-bit marker in the high nibble of the first byte, matching the
// standard PTS/DTS bit distribution described in spec.md §4.4.
func insertTimestamp(d []byte, marker byte, ts uint64) {
	ts &= (1 << 33) - 1
	d[0] = marker<<4 | byte(ts>>29&0x0e) | 0x01
	d[1] = byte(ts >> 22)
	d[2] = byte(ts>>14&0xfe) | 0x01
	d[3] = byte(ts >> 7)
	d[4] = byte(ts<<1&0xfe) | 0x01
}

// GetPTS returns the 33-bit PTS from a PES header, given the PTS_DTS_flags
// indicate a PTS is present (PTSDTSPTSOnly or PTSDTSBoth).
func GetPTS(payload []byte) (uint64, error) {
	flags, err := PTSDTSFlags(payload)
	if err != nil {
		return 0, err
	}
	if flags != PTSDTSPTSOnly && flags != PTSDTSBoth {
		return 0, ErrNoTimestamp
	}
	if len(payload) < pesOptionalStart+5 {
		return 0, ErrShortPESHeader
	}
	return extractTimestamp(payload[pesOptionalStart : pesOptionalStart+5]), nil
}

// SetPTS overwrites the 33-bit PTS field in place, preserving whatever
// PTS_DTS_flags value is already set.
func SetPTS(payload []byte, pts uint64) error {
	flags, err := PTSDTSFlags(payload)
	if err != nil {
		return err
	}
	if flags != PTSDTSPTSOnly && flags != PTSDTSBoth {
		return ErrNoTimestamp
	}
	if len(payload) < pesOptionalStart+5 {
		return ErrShortPESHeader
	}
	marker := byte(0x2)
	if flags == PTSDTSBoth {
		marker = 0x3
	}
	insertTimestamp(payload[pesOptionalStart:pesOptionalStart+5], marker, pts)
	return nil
}

// GetDTS returns the 33-bit DTS from a PES header; only valid when
// PTS_DTS_flags is PTSDTSBoth.
func GetDTS(payload []byte) (uint64, error) {
	flags, err := PTSDTSFlags(payload)
	if err != nil {
		return 0, err
	}
	if flags != PTSDTSBoth {
		return 0, ErrNoTimestamp
	}
	if len(payload) < pesOptionalStart+10 {
		return 0, ErrShortPESHeader
	}
	return extractTimestamp(payload[pesOptionalStart+5 : pesOptionalStart+10]), nil
}

// SetDTS overwrites the 33-bit DTS field in place; only valid when
// PTS_DTS_flags is PTSDTSBoth.
func SetDTS(payload []byte, dts uint64) error {
	flags, err := PTSDTSFlags(payload)
	if err != nil {
		return err
	}
	if flags != PTSDTSBoth {
		return ErrNoTimestamp
	}
	if len(payload) < pesOptionalStart+10 {
		return ErrShortPESHeader
	}
	insertTimestamp(payload[pesOptionalStart+5:pesOptionalStart+10], 0x1, dts)
	return nil
}
