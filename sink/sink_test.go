package sink

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aolab/tsmux/mxlog"
	"github.com/aolab/tsmux/tspacket"
)

type nopCloser struct{ *bytes.Buffer }

func (nopCloser) Close() error { return nil }

func TestPipeSinkWritesThroughOpener(t *testing.T) {
	var buf bytes.Buffer
	log := mxlog.NewWriter(io.Discard, mxlog.Debug)
	s := NewPipeSink("/unused", log, 0, func(string) (io.WriteCloser, error) {
		return nopCloser{&buf}, nil
	})

	var raw [tspacket.Size]byte
	raw[0] = tspacket.SyncByte
	require.NoError(t, s.Write(raw))
	assert.Equal(t, tspacket.Size, buf.Len())
	require.NoError(t, s.Close())
}
