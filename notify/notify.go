/*
NAME
  notify.go - fire-and-forget outbound HTTP notifications on scene changes.

DESCRIPTION
  Grounded on revid/senders.go's httpSender, which posts data to a
  configured address and logs (rather than propagates) failures so a slow
  or down receiver never blocks the pipeline. Notifier adapts that
  fire-and-forget posture to the small, infrequent scene-change events
  spec.md §4.9 describes (switch to live, switch to fallback), queued
  through a bounded channel and drained by one worker goroutine so a
  notification never blocks the engine's packet loop.

LICENSE
  See repository LICENSE.
*/

// Package notify posts outbound scene-change notifications without ever
// blocking the caller.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/aolab/tsmux/mxlog"
)

// Event is one scene-change notification.
type Event struct {
	Scene     string    `json:"scene"` // "live" or "fallback"
	Timestamp time.Time `json:"timestamp"`
}

// Notifier posts Events to configured URLs from a single background worker,
// dropping events rather than blocking the caller if the worker is behind.
type Notifier struct {
	liveURL     string
	fallbackURL string
	timeout     time.Duration
	log         mxlog.Logger
	client      *http.Client

	events chan Event
	done   chan struct{}
}

// New returns a Notifier and starts its worker goroutine. Call Close to stop
// it.
func New(liveURL, fallbackURL string, timeout time.Duration, log mxlog.Logger) *Notifier {
	n := &Notifier{
		liveURL:     liveURL,
		fallbackURL: fallbackURL,
		timeout:     timeout,
		log:         log,
		client:      &http.Client{},
		events:      make(chan Event, 16),
		done:        make(chan struct{}),
	}
	go n.run()
	return n
}

// NotifyLive enqueues a live-scene notification, dropping it if the queue is
// full.
func (n *Notifier) NotifyLive(at time.Time) { n.enqueue(Event{Scene: "live", Timestamp: at}) }

// NotifyFallback enqueues a fallback-scene notification, dropping it if the
// queue is full.
func (n *Notifier) NotifyFallback(at time.Time) {
	n.enqueue(Event{Scene: "fallback", Timestamp: at})
}

func (n *Notifier) enqueue(e Event) {
	select {
	case n.events <- e:
	default:
		n.log.Warning("notify queue full, dropping event", "scene", e.Scene)
	}
}

func (n *Notifier) run() {
	for {
		select {
		case e := <-n.events:
			n.deliver(e)
		case <-n.done:
			return
		}
	}
}

func (n *Notifier) deliver(e Event) {
	url := n.fallbackURL
	if e.Scene == "live" {
		url = n.liveURL
	}
	if url == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()

	body, _ := json.Marshal(e)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		n.log.Warning("notify request build failed", "error", err.Error())
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		n.log.Warning("notify delivery failed", "error", err.Error(), "scene", e.Scene)
		return
	}
	resp.Body.Close()
}

// Close stops the worker goroutine. Queued events that have not yet been
// delivered are discarded.
func (n *Notifier) Close() { close(n.done) }
