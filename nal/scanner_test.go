package nal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startCode3(typ byte) []byte { return []byte{0x00, 0x00, 0x01, typ} }

func TestScannerCleanSwitchPoint(t *testing.T) {
	s := NewScanner()

	var au []byte
	au = append(au, startCode3(TypeAccessUnitDelimiter)...)
	au = append(au, startCode3(TypeSPS)...)
	au = append(au, startCode3(TypePPS)...)
	au = append(au, startCode3(TypeIDRSlice)...)

	// First PUSI starts accumulation; nothing completes yet.
	_, ok := s.Feed(au, true)
	assert.False(t, ok)

	// Next access unit's PUSI closes the previous one.
	next := startCode3(TypeNonIDRSlice)
	fi, ok := s.Feed(next, true)
	require.True(t, ok)
	assert.True(t, fi.IsIDR)
	assert.True(t, fi.HasSPS)
	assert.True(t, fi.HasPPS)
	assert.True(t, fi.HasAUD)
	assert.True(t, fi.IsCleanSwitchPoint())
}

func TestScannerNonIDRIsNotCleanSwitchPoint(t *testing.T) {
	s := NewScanner()
	s.Feed(startCode3(TypeNonIDRSlice), true)
	fi, ok := s.Feed(startCode3(TypeNonIDRSlice), true)
	require.True(t, ok)
	assert.False(t, fi.IsCleanSwitchPoint())
}

func TestScannerCachesParameterSetsAcrossAccessUnits(t *testing.T) {
	s := NewScanner()

	var first []byte
	first = append(first, startCode3(TypeSPS)...)
	first = append(first, startCode3(TypePPS)...)
	first = append(first, startCode3(TypeIDRSlice)...)
	s.Feed(first, true)
	s.Feed(startCode3(TypeIDRSlice), true) // Closes the first access unit.

	fi, ok := s.Flush() // The IDR-only second access unit.
	require.True(t, ok)
	assert.True(t, fi.IsIDR)
	assert.False(t, fi.HasSPS)
	assert.False(t, fi.HasPPS)
	assert.False(t, fi.IsCleanSwitchPoint(), "an IDR without its own SPS/PPS is not a clean switch point")
	assert.NotNil(t, fi.SPS, "the SPS cached from the prior access unit is still reported")
}

func TestScannerAUDMidStreamClosesAccessUnit(t *testing.T) {
	s := NewScanner()
	var payload []byte
	payload = append(payload, startCode3(TypeNonIDRSlice)...)
	payload = append(payload, startCode3(TypeAccessUnitDelimiter)...)
	payload = append(payload, startCode3(TypeIDRSlice)...)

	fi, ok := s.Feed(payload, true)
	require.True(t, ok)
	assert.False(t, fi.IsIDR)
	assert.Equal(t, TypeNonIDRSlice, fi.PrimaryNALType)
}

func TestScannerResetClearsCachedParameterSets(t *testing.T) {
	s := NewScanner()
	var first []byte
	first = append(first, startCode3(TypeSPS)...)
	first = append(first, startCode3(TypePPS)...)
	first = append(first, startCode3(TypeIDRSlice)...)
	s.Feed(first, true)
	s.Reset()

	fi, ok := s.Feed(startCode3(TypeIDRSlice), true)
	s.Feed(startCode3(TypeNonIDRSlice), true)
	_ = fi
	_ = ok

	fi2, ok2 := s.Flush()
	require.True(t, ok2)
	assert.False(t, fi2.HasSPS)
	assert.Nil(t, fi2.SPS)
}
