/*
NAME
  ingest.go - reads raw MPEG-TS packets from one source over UDP, TCP, a
  named pipe, or a child process's stdout, and feeds them to a PacketQueue.

DESCRIPTION
  Generalizes the teacher's AVDevice-driven input idiom (revid/pipeline.go's
  switch over r.cfg.Input, dispatching to a concrete device.AVDevice and
  running a blocking read loop in a goroutine that reports errors over a
  channel) into Driver implementations per spec.md §6's four transport
  kinds. Reconnection uses the backoff package, generalized from
  revid/senders.go's rtmpSender.restart retry loop.

LICENSE
  See repository LICENSE.
*/

// Package ingest reads raw MPEG-TS packets from a single source over one of
// the transports spec.md §6 describes, resynchronising on the sync byte and
// feeding whole packets to a queue.
package ingest

import (
	"bufio"
	"context"
	"io"
	"net"
	"os/exec"
	"sync/atomic"
	"time"

	"github.com/aolab/tsmux/backoff"
	"github.com/aolab/tsmux/mxlog"
	"github.com/aolab/tsmux/tspacket"
	"github.com/aolab/tsmux/tsqueue"
)

// Driver reads packets from one source until ctx is cancelled.
type Driver interface {
	// Run blocks, pushing parsed packets to q, until ctx is cancelled or an
	// unrecoverable error occurs.
	Run(ctx context.Context, q *tsqueue.Queue)
	// Connected reports whether the underlying transport is currently open.
	Connected() bool
	// PacketsRead returns the number of packets successfully read so far.
	PacketsRead() uint64
}

// base holds the bookkeeping common to every Driver implementation.
type base struct {
	log       mxlog.Logger
	connected int32
	read      uint64
	policy    backoff.Policy
}

func (b *base) Connected() bool     { return atomic.LoadInt32(&b.connected) != 0 }
func (b *base) PacketsRead() uint64 { return atomic.LoadUint64(&b.read) }
func (b *base) setConnected(v bool) {
	if v {
		atomic.StoreInt32(&b.connected, 1)
	} else {
		atomic.StoreInt32(&b.connected, 0)
	}
}

// readPackets resynchronises to the TS sync byte on r and pushes whole
// packets to q until r returns an error. It returns that error.
func readPackets(r io.Reader, q *tsqueue.Queue, b *base) error {
	br := bufio.NewReaderSize(r, 64*tspacket.Size)
	for {
		sb, err := br.ReadByte()
		if err != nil {
			return err
		}
		if sb != tspacket.SyncByte {
			continue
		}
		var raw [tspacket.Size]byte
		raw[0] = sb
		if _, err := io.ReadFull(br, raw[1:]); err != nil {
			return err
		}
		q.Push(raw)
		atomic.AddUint64(&b.read, 1)
	}
}

// UDPDriver reads TS packets from a UDP socket, one packet (or a small
// multiple, in practice usually exactly seven 188-byte packets per 1316
// byte datagram) per datagram.
type UDPDriver struct {
	base
	Address string
}

// NewUDPDriver returns a Driver reading from a UDP socket bound to address.
func NewUDPDriver(address string, log mxlog.Logger) *UDPDriver {
	return &UDPDriver{base: base{log: log, policy: backoff.Default()}, Address: address}
}

func (d *UDPDriver) Run(ctx context.Context, q *tsqueue.Queue) {
	d.policy.Retry(ctx, func() error {
		conn, err := net.ListenPacket("udp", d.Address)
		if err != nil {
			return err
		}
		defer conn.Close()
		d.setConnected(true)
		defer d.setConnected(false)

		buf := make([]byte, 7*tspacket.Size)
		for {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			conn.SetReadDeadline(time.Now().Add(time.Second))
			n, _, err := conn.ReadFrom(buf)
			if err != nil {
				if ne, ok := err.(net.Error); ok && ne.Timeout() {
					continue
				}
				return err
			}
			for off := 0; off+tspacket.Size <= n; off += tspacket.Size {
				if buf[off] != tspacket.SyncByte {
					continue
				}
				var raw [tspacket.Size]byte
				copy(raw[:], buf[off:off+tspacket.Size])
				q.Push(raw)
				atomic.AddUint64(&d.read, 1)
			}
		}
	}, func(err error, next time.Duration) {
		d.log.Warning("udp ingest error, retrying", "error", err.Error(), "delay", next.String())
	})
}

// TCPDriver reads a continuous TS byte stream from a TCP connection,
// resynchronising to the sync byte on reconnect since TCP gives no packet
// framing of its own.
type TCPDriver struct {
	base
	Address string
}

// NewTCPDriver returns a Driver that dials address over TCP.
func NewTCPDriver(address string, log mxlog.Logger) *TCPDriver {
	return &TCPDriver{base: base{log: log, policy: backoff.Default()}, Address: address}
}

func (d *TCPDriver) Run(ctx context.Context, q *tsqueue.Queue) {
	d.policy.Retry(ctx, func() error {
		conn, err := net.Dial("tcp", d.Address)
		if err != nil {
			return err
		}
		defer conn.Close()
		d.setConnected(true)
		defer d.setConnected(false)
		go func() {
			<-ctx.Done()
			conn.Close()
		}()
		return readPackets(conn, q, &d.base)
	}, func(err error, next time.Duration) {
		d.log.Warning("tcp ingest error, retrying", "error", err.Error(), "delay", next.String())
	})
}

// FIFODriver reads a continuous TS byte stream from a named pipe, reopening
// it if the writer end closes (a FIFO reader sees EOF once the last writer
// closes, unlike a socket).
type FIFODriver struct {
	base
	Path string
	open func(path string) (io.ReadCloser, error)
}

// NewFIFODriver returns a Driver reading from the named pipe at path.
func NewFIFODriver(path string, log mxlog.Logger, open func(string) (io.ReadCloser, error)) *FIFODriver {
	return &FIFODriver{base: base{log: log, policy: backoff.Default()}, Path: path, open: open}
}

func (d *FIFODriver) Run(ctx context.Context, q *tsqueue.Queue) {
	d.policy.Retry(ctx, func() error {
		f, err := d.open(d.Path)
		if err != nil {
			return err
		}
		defer f.Close()
		d.setConnected(true)
		defer d.setConnected(false)
		go func() {
			<-ctx.Done()
			f.Close()
		}()
		return readPackets(f, q, &d.base)
	}, func(err error, next time.Duration) {
		d.log.Warning("fifo ingest error, retrying", "error", err.Error(), "delay", next.String())
	})
}

// ProcessDriver reads a continuous TS byte stream from a child process's
// stdout, restarting the process if it exits.
type ProcessDriver struct {
	base
	Command string
	Args    []string
}

// NewProcessDriver returns a Driver that runs command with args and reads
// its stdout.
func NewProcessDriver(command string, args []string, log mxlog.Logger) *ProcessDriver {
	return &ProcessDriver{base: base{log: log, policy: backoff.Default()}, Command: command, Args: args}
}

func (d *ProcessDriver) Run(ctx context.Context, q *tsqueue.Queue) {
	d.policy.Retry(ctx, func() error {
		cmd := exec.CommandContext(ctx, d.Command, d.Args...)
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return err
		}
		if err := cmd.Start(); err != nil {
			return err
		}
		d.setConnected(true)
		defer d.setConnected(false)
		readErr := readPackets(stdout, q, &d.base)
		cmd.Wait()
		return readErr
	}, func(err error, next time.Duration) {
		d.log.Warning("process ingest error, retrying", "error", err.Error(), "delay", next.String())
	})
}
