/*
NAME
  backoff.go - shared reconnect policy for ingest drivers and sinks.

DESCRIPTION
  Grounded on revid/senders.go's rtmpSender.restart, which loops up to a
  fixed retry count re-dialing on failure. That loop has no delay between
  attempts and gives up permanently after retries is exhausted, which suits
  a one-shot FLV upload but not a 24/7 ingest or egress connection that must
  keep trying indefinitely. Policy generalizes the same dial-retry shape
  into an unbounded retry loop with exponential backoff and a cap, so a
  flaky source or sink recovers without needing the process restarted.

LICENSE
  See repository LICENSE.
*/

// Package backoff provides the reconnect-retry policy shared by ingest
// drivers and sinks.
package backoff

import (
	"context"
	"time"
)

// Policy is an exponential backoff with a maximum delay, retried
// indefinitely until ctx is cancelled.
type Policy struct {
	Initial time.Duration
	Max     time.Duration
	Factor  float64
}

// Default matches the cadence revid's senders use for a single retry burst,
// extended to run indefinitely rather than giving up after a fixed count.
func Default() Policy {
	return Policy{Initial: 500 * time.Millisecond, Max: 30 * time.Second, Factor: 2}
}

// Retry calls attempt repeatedly until it returns nil or ctx is cancelled,
// sleeping an increasing delay between failures. onFailure, if non-nil, is
// called with each error and the delay about to be slept, for logging.
func (p Policy) Retry(ctx context.Context, attempt func() error, onFailure func(err error, next time.Duration)) error {
	delay := p.Initial
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	for {
		err := attempt()
		if err == nil {
			return nil
		}
		if onFailure != nil {
			onFailure(err, delay)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * p.Factor)
		if p.Max > 0 && delay > p.Max {
			delay = p.Max
		}
	}
}
