package coordinator

import (
	"bytes"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rudransh-shrivastava/halozone/internal/config"
	"github.com/rudransh-shrivastava/halozone/internal/ranging"
)

// rangingEnvelope tags a session event with the generation of the session
// that produced it.
type rangingEnvelope struct {
	generation uint64
	event      ranging.Event
}

// rangingSlot is the one ranging session a device owns, plus the peer run it
// is configured for. Only the event loop touches it.
type rangingSlot struct {
	session    ranging.Session
	generation uint64

	peerID    string
	peerToken []byte
	retries   int
	retry     *time.Timer
	band      hysteresis
}

func newRangingSlot(cfg config.RangingConfig) *rangingSlot {
	return &rangingSlot{band: newHysteresis(cfg.NearThreshold, cfg.FarThreshold())}
}

// replaceSession invalidates the current session before creating the next
// one. On failure the slot is left empty.
func (s *rangingSlot) replaceSession(engine ranging.Engine, forward func(uint64, ranging.Session)) error {
	s.invalidate()
	s.clearRun()
	s.generation++

	sess, err := engine.NewSession()
	if err != nil {
		return err
	}
	s.session = sess
	go forward(s.generation, sess)
	return nil
}

func (s *rangingSlot) invalidate() {
	if s.session == nil {
		return
	}
	s.session.Invalidate()
	s.session = nil
}

func (s *rangingSlot) localToken() []byte {
	if s.session == nil {
		return nil
	}
	return s.session.LocalToken()
}

// clearRun forgets the configured peer. Events from the old run are dropped
// by token mismatch.
func (s *rangingSlot) clearRun() {
	s.stopRetry()
	s.peerID = ""
	s.peerToken = nil
	s.retries = 0
	s.band.reset()
}

func (s *rangingSlot) stopRetry() {
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}
}

func (s *rangingSlot) current(env rangingEnvelope) bool {
	if env.generation != s.generation || s.session == nil {
		return false
	}
	switch env.event.Kind {
	case ranging.EventDistance, ranging.EventRemoved:
		return s.peerToken != nil && bytes.Equal(env.event.PeerToken, s.peerToken)
	default:
		return true
	}
}

// forward copies one session's events onto the loop's queue until the
// session is invalidated.
func (c *Coordinator) forward(generation uint64, sess ranging.Session) {
	for ev := range sess.Events() {
		c.rangingEvents.Push(rangingEnvelope{generation: generation, event: ev})
	}
}

// runRanging points the session at peerID's token, superseding any run for
// another peer.
func (c *Coordinator) runRanging(peerID string, token []byte) {
	log := c.logger.WithField("peer", peerID)
	if c.slot.session == nil {
		log.Warn("No ranging session, cannot range")
		return
	}

	if c.slot.peerID != "" && c.slot.peerID != peerID {
		log.Infof("Superseding ranging with %s", c.slot.peerID)
	}
	c.slot.clearRun()
	c.slot.peerID = peerID
	c.slot.peerToken = token

	if err := c.slot.session.Run(token); err != nil {
		log.Warnf("Failed to run ranging: %v", err)
		c.slot.clearRun()
		return
	}
	log.Debug("Ranging configured")
}

func (c *Coordinator) handleRangingEnvelope(env rangingEnvelope) {
	if !c.slot.current(env) {
		c.logger.Debugf("Dropping stale ranging event %s", env.event.Kind)
		return
	}

	ev := env.event
	switch ev.Kind {
	case ranging.EventDistance:
		c.handleDistance(ev.PeerToken, ev.Distance)

	case ranging.EventInvalidated:
		c.logger.Warnf("Ranging session invalidated: %v", ev.Err)
		c.startup()

	case ranging.EventRemoved:
		c.handleRemoved(ev.Reason)

	case ranging.EventSuspended:
		c.logger.Info("Ranging suspended")

	case ranging.EventResumed:
		if c.slot.peerToken == nil {
			c.logger.Info("Ranging resumed without a peer, restarting")
			c.startup()
			return
		}
		c.logger.Info("Ranging resumed")
		if err := c.slot.session.Run(c.slot.peerToken); err != nil {
			c.logger.Warnf("Failed to resume ranging: %v", err)
		}
	}
}

func (c *Coordinator) handleDistance(token []byte, distance float64) {
	r, ok := c.dir.peerForToken(token)
	if !ok {
		c.logger.Debug("Distance for unknown token")
		return
	}

	d := distance
	r.distance = &d
	r.state = StateRanging
	c.slot.retries = 0

	if c.slot.band.observe(distance) {
		c.logger.WithField("peer", r.id).Infof("Peer moved away (%.2fm), restarting session", distance)
		c.startup()
	}
}

func (c *Coordinator) handleRemoved(reason ranging.RemovalReason) {
	log := c.logger.WithFields(logrus.Fields{"peer": c.slot.peerID, "reason": reason.String()})

	switch reason {
	case ranging.ReasonPeerEnded:
		log.Info("Peer ended ranging, restarting session")
		c.startup()

	case ranging.ReasonTimeout:
		if c.slot.retries >= c.policy.MaxRetries {
			log.Warnf("Ranging timed out %d times, restarting session", c.slot.retries)
			c.startup()
			return
		}
		c.slot.retries++
		c.scheduleRetry(c.slot.retries)

	default:
		log.Info("Ranging peer removed")
	}
}

// scheduleSessionRetry creates the ranging session again after a linear
// backoff. On success the new token goes to every peer still waiting for one.
func (c *Coordinator) scheduleSessionRetry(attempt int) {
	step := c.policy.RetryBackoff.Duration
	if step <= 0 {
		step = config.DefaultRetryBackoff
	}
	delay := step * time.Duration(min(attempt, max(c.policy.MaxRetries, 1)))
	generation := c.slot.generation

	c.slot.stopRetry()
	c.slot.retry = time.AfterFunc(delay, func() {
		c.post(func() {
			if c.slot.generation != generation || c.slot.session != nil {
				return
			}
			c.slot.retry = nil
			if err := c.slot.replaceSession(c.engine, c.forward); err != nil {
				c.logger.Warnf("Failed to start ranging session (attempt %d): %v", attempt+1, err)
				c.scheduleSessionRetry(attempt + 1)
				return
			}
			c.logger.Info("Ranging session started")

			var latest *record
			for _, id := range c.dir.order {
				r := c.dir.records[id]
				c.shareToken(r)
				if r.token != nil {
					latest = r
				}
			}
			if latest != nil {
				c.runRanging(latest.id, latest.token)
			}
		})
	})
}

// scheduleRetry re-runs the current configuration after a linear backoff.
func (c *Coordinator) scheduleRetry(attempt int) {
	delay := c.policy.RetryBackoff.Duration * time.Duration(attempt)
	generation := c.slot.generation
	token := c.slot.peerToken
	peerID := c.slot.peerID

	c.logger.WithField("peer", peerID).Infof("Ranging timed out, retry %d in %s", attempt, delay)

	c.slot.stopRetry()
	c.slot.retry = time.AfterFunc(delay, func() {
		c.post(func() {
			if c.slot.generation != generation || c.slot.session == nil || !bytes.Equal(c.slot.peerToken, token) {
				return
			}
			c.slot.retry = nil
			if err := c.slot.session.Run(token); err != nil {
				c.logger.WithField("peer", peerID).Warnf("Ranging retry failed: %v", err)
			}
		})
	})
}
