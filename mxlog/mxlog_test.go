package mxlog

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, Warning)

	l.Debug("should not appear")
	l.Error("should appear", "code", 500)

	out := buf.String()
	assert.NotContains(t, out, "should not appear")
	assert.True(t, strings.Contains(out, "should appear"))
	assert.True(t, strings.Contains(out, "code=500"))
}

func TestSetLevelRaisesThreshold(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, Error)
	l.Debug("hidden")
	assert.Empty(t, buf.String())

	l.SetLevel(Debug)
	l.Debug("visible")
	assert.Contains(t, buf.String(), "visible")
}
