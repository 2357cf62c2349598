/*
NAME
  switcher.go - decides which source is active, applying hysteresis so a
  flapping source cannot cause rapid back-and-forth switching.

DESCRIPTION
  Generalizes the functional-options construction style used throughout
  revid/senders.go (e.g. newHTTPSender's httpSenderOption) for configuring
  the switch policy, and adapts revid's sender state fields (tracking
  consecutive failures before a sender is considered down) into a
  consecutive-good-packets counter that must clear a threshold before a
  fallback source is trusted as live again, per spec.md §4.6.

LICENSE
  See repository LICENSE.
*/

// Package switcher implements the active-source state machine: LIVE,
// FALLBACK, and PRIVACY_FORCED_FALLBACK, with hysteresis against flapping
// sources and a freshness watchdog against stalled ones.
package switcher

import "time"

// State is the engine's current output mode.
type State int

const (
	StateLive State = iota
	StateFallback
	StatePrivacyForcedFallback
)

func (s State) String() string {
	switch s {
	case StateLive:
		return "live"
	case StateFallback:
		return "fallback"
	case StatePrivacyForcedFallback:
		return "privacy_forced_fallback"
	default:
		return "unknown"
	}
}

// Option configures a Controller at construction time.
type Option func(*Controller)

// WithMinConsecutiveForSwitch overrides the default hysteresis threshold.
func WithMinConsecutiveForSwitch(n int) Option {
	return func(c *Controller) { c.minConsecutive = n }
}

// WithMaxLiveGap overrides the default freshness watchdog window.
func WithMaxLiveGap(d time.Duration) Option {
	return func(c *Controller) { c.maxLiveGap = d }
}

// WithOnTransition registers a callback invoked whenever State changes.
func WithOnTransition(fn func(from, to State)) Option {
	return func(c *Controller) { c.onTransition = fn }
}

const (
	defaultMinConsecutiveForSwitch = 10
	defaultMaxLiveGap              = 2 * time.Second
)

// Controller holds the active-source state machine for one engine run.
type Controller struct {
	minConsecutive int
	maxLiveGap     time.Duration
	onTransition   func(from, to State)

	state State

	consecutiveLivePackets int
	lastLivePacketAt       time.Time

	privacyForced bool
}

// New returns a Controller starting in FALLBACK, matching the engine's
// conservative startup posture: nothing is trusted as live until it has
// proven itself.
func New(opts ...Option) *Controller {
	c := &Controller{
		minConsecutive: defaultMinConsecutiveForSwitch,
		maxLiveGap:     defaultMaxLiveGap,
		state:          StateFallback,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current mode.
func (c *Controller) State() State { return c.state }

// ObserveLivePacket records that a valid packet arrived from the live
// source's candidate at time now, advancing the hysteresis counter.
// cleanSwitchAvailable reports whether the live candidate's buffer
// currently holds a clean switch point (sourcebuf.Buffer.Ready) to join at;
// the controller transitions to LIVE only once the packet-count threshold
// is met, a clean switch point is available, and privacy has not forced
// fallback, per spec.md §4.6.
func (c *Controller) ObserveLivePacket(now time.Time, cleanSwitchAvailable bool) {
	c.lastLivePacketAt = now
	if c.privacyForced {
		return
	}
	c.consecutiveLivePackets++
	if c.state != StateLive && cleanSwitchAvailable && c.consecutiveLivePackets >= c.minConsecutive {
		c.transition(StateLive)
	}
}

// ObserveLiveGap resets the hysteresis counter on any interruption from the
// live candidate (a dropped packet, a discontinuity, a source restart).
func (c *Controller) ObserveLiveGap() {
	c.consecutiveLivePackets = 0
}

// CheckFreshness forces a transition to FALLBACK if no live packet has been
// observed within the configured watchdog window, per spec.md §4.6's
// freshness requirement. Call this once per engine iteration regardless of
// which source is currently selected.
func (c *Controller) CheckFreshness(now time.Time) {
	if c.state != StateLive {
		return
	}
	if c.lastLivePacketAt.IsZero() || now.Sub(c.lastLivePacketAt) > c.maxLiveGap {
		c.consecutiveLivePackets = 0
		c.transition(StateFallback)
	}
}

// AssertPrivacy forces fallback regardless of the live source's health,
// until ReleasePrivacy is called.
func (c *Controller) AssertPrivacy() {
	c.privacyForced = true
	c.consecutiveLivePackets = 0
	c.transition(StatePrivacyForcedFallback)
}

// ReleasePrivacy lifts a privacy-forced fallback. The controller returns to
// FALLBACK and must re-earn LIVE through the normal hysteresis path.
func (c *Controller) ReleasePrivacy() {
	c.privacyForced = false
	if c.state == StatePrivacyForcedFallback {
		c.transition(StateFallback)
	}
}

func (c *Controller) transition(to State) {
	if to == c.state {
		return
	}
	from := c.state
	c.state = to
	if c.onTransition != nil {
		c.onTransition(from, to)
	}
}
