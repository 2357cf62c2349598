/*
NAME
  sink.go - writes the final, continuous MPEG-TS output to a pipe or socket.

DESCRIPTION
  Mirrors revid/senders.go's sender shape (a small struct wrapping a
  destination connection, with Write blocking and reconnecting on failure)
  but adapted to spec.md §6's raw-pipe/socket egress rather than
  HTTP/RTMP/RTP framing, and using the shared backoff package instead of the
  teacher's fixed-retry-count loop. Optional output pacing uses
  golang.org/x/time/rate, the way a constant-bitrate egress path would
  throttle writes to match a downstream decoder's real-time consumption
  rate.

LICENSE
  See repository LICENSE.
*/

// Package sink writes the switching engine's output MPEG-TS stream to a
// named pipe or a TCP socket, blocking the caller under backpressure and
// reconnecting automatically on failure.
package sink

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/aolab/tsmux/backoff"
	"github.com/aolab/tsmux/mxlog"
	"github.com/aolab/tsmux/tspacket"
)

// Sink is the engine's egress destination: every rewritten output packet is
// written to it in order. Write blocks under backpressure rather than
// dropping data, per spec.md §6.
type Sink interface {
	Write(raw [tspacket.Size]byte) error
	Close() error
}

// opener returns a fresh io.WriteCloser destination, called on first use and
// again on every reconnect.
type opener func() (io.WriteCloser, error)

// pipeOrSocket is shared by PipeSink and SocketSink: both are a reconnecting
// io.WriteCloser destination plus optional rate pacing.
type pipeOrSocket struct {
	mu     sync.Mutex
	open   opener
	conn   io.WriteCloser
	log    mxlog.Logger
	policy backoff.Policy
	ctx    context.Context
	cancel context.CancelFunc

	limiter *rate.Limiter
}

func newPipeOrSocket(open opener, log mxlog.Logger, rateBps float64) *pipeOrSocket {
	ctx, cancel := context.WithCancel(context.Background())
	s := &pipeOrSocket{open: open, log: log, policy: backoff.Default(), ctx: ctx, cancel: cancel}
	if rateBps > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(rateBps/8), tspacket.Size*8)
	}
	return s
}

// Write blocks until raw has been delivered, reconnecting through backoff
// on any write failure (a reader that closes its end, e.g. a downstream
// muxer restarting, should not kill the engine).
func (s *pipeOrSocket) Write(raw [tspacket.Size]byte) error {
	if s.limiter != nil {
		if err := s.limiter.WaitN(s.ctx, tspacket.Size); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		if s.conn == nil {
			if err := s.reconnect(); err != nil {
				return err
			}
		}
		_, err := s.conn.Write(raw[:])
		if err == nil {
			return nil
		}
		s.log.Warning("sink write failed, reconnecting", "error", err.Error())
		s.conn.Close()
		s.conn = nil
		if err := s.reconnect(); err != nil {
			return err
		}
	}
}

// reconnect retries s.open until it succeeds or the sink is closed. Caller
// must hold s.mu.
func (s *pipeOrSocket) reconnect() error {
	return s.policy.Retry(s.ctx, func() error {
		c, err := s.open()
		if err != nil {
			return err
		}
		s.conn = c
		return nil
	}, func(err error, next time.Duration) {
		s.log.Warning("sink reconnect failed", "error", err.Error(), "delay", next.String())
	})
}

func (s *pipeOrSocket) Close() error {
	s.cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// PipeSink writes to a named pipe (or any plain file path), reopening for
// write on every failure.
type PipeSink struct{ *pipeOrSocket }

// NewPipeSink returns a Sink writing to the file at path, opening it lazily
// on the first Write.
func NewPipeSink(path string, log mxlog.Logger, rateBps float64, openFile func(string) (io.WriteCloser, error)) *PipeSink {
	return &PipeSink{newPipeOrSocket(func() (io.WriteCloser, error) { return openFile(path) }, log, rateBps)}
}

// SocketSink writes to a TCP connection, redialing address on every
// failure.
type SocketSink struct{ *pipeOrSocket }

// NewSocketSink returns a Sink that dials address over TCP, connecting
// lazily on the first Write.
func NewSocketSink(address string, log mxlog.Logger, rateBps float64) *SocketSink {
	return &SocketSink{newPipeOrSocket(func() (io.WriteCloser, error) { return net.Dial("tcp", address) }, log, rateBps)}
}
