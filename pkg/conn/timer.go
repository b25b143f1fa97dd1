package conn

import (
	"sync/atomic"
	"time"

	"rudp/pkg/transport"
)

// timerLoop drives handshake retries and the connected-idle liveness
// check. It ticks at half the configured resend interval so a resend
// becoming due is never more than one period late (spec §5 "the timer
// period is half the resend delay so that a resend is issued within one
// period of becoming due").
func (c *Connection) timerLoop() {
	period := c.opts.resendInterval / 2
	if period <= 0 {
		period = 50 * time.Millisecond
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case now := <-ticker.C:
			c.onTick(now)
		}
	}
}

func (c *Connection) onTick(now time.Time) {
	switch c.State() {
	case transport.StateAwaitingChallenge:
		c.retryHandshakePhase(now, c.sendConnect, transport.StatusNoChallengeReceived)
	case transport.StateAwaitingConnected:
		c.retryHandshakePhase(now, c.sendSolution, transport.StatusNoConnectedReceived)
	case transport.StateConnected:
		c.checkLiveness(now)
		c.tickChannels(now)
	}
}

// retryHandshakePhase resends the current handshake phase's control
// packet once resendInterval has elapsed since the last send, up to
// retryAmount total sends; the attempt beyond that gives up without
// sending, matching spec §5's property of exactly retryAmount outgoing
// control packets before a failure is reported (spec §4.3).
func (c *Connection) retryHandshakePhase(now time.Time, resend func(), failStatus transport.ConnectStatus) {
	c.saltMu.RLock()
	due := now.Sub(c.lastHandshake) >= c.opts.resendInterval
	c.saltMu.RUnlock()
	if !due {
		return
	}

	n := atomic.LoadInt32(&c.retryCnt)
	if n >= int32(c.opts.retryAmount) {
		prev := c.State()
		if c.casState(prev, transport.StateReadyToConnect) {
			c.log.Warn("handshake failed after %d attempts", n)
			transport.InvokeConnected(c.getHooks(), failStatus)
		}
		return
	}

	resend()
	atomic.AddInt32(&c.retryCnt, 1)
	c.saltMu.Lock()
	c.lastHandshake = now
	c.saltMu.Unlock()
}

// checkLiveness disconnects a Connection that has gone quiet past the
// configured idle timeout (spec §4.3, §9 — previously a no-op bug in the
// idle-liveness check, fixed here: the comparison actually triggers the
// self-disconnect instead of returning early every time).
func (c *Connection) checkLiveness(now time.Time) {
	if now.Sub(c.getLastReceived()) > c.opts.livenessTimeout {
		c.log.Warn("liveness timeout, disconnecting")
		c.disconnect(true)
	}
}

func (c *Connection) tickChannels(now time.Time) {
	c.chMu.RLock()
	chans := make([]transport.Channel, 0, len(c.channels))
	seen := make(map[transport.Channel]bool)
	for _, ch := range c.channels {
		if !seen[ch] {
			seen[ch] = true
			chans = append(chans, ch)
		}
	}
	c.chMu.RUnlock()
	for _, ch := range chans {
		ch.Tick(now)
	}
}
