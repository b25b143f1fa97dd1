package conn

import (
	"time"

	"rudp/pkg/transport"
)

// options collects the tunables spec §5 calls out by name. Defaults come
// from transport's recommended values (10 retries, 5s liveness).
type options struct {
	retryAmount     int
	resendInterval  time.Duration
	livenessTimeout time.Duration
}

func defaultOptions() options {
	return options{
		retryAmount:     transport.DefaultRetryAmount,
		resendInterval:  transport.DefaultResendInterval,
		livenessTimeout: transport.DefaultLivenessTimeout,
	}
}

// Option configures a Connection at construction time.
type Option func(*options)

// WithRetryAmount overrides the handshake retry cap (spec §4.3, §5).
func WithRetryAmount(n int) Option {
	return func(o *options) { o.retryAmount = n }
}

// WithResendInterval overrides how long the handshake waits for a
// response before resending the current phase's control packet.
func WithResendInterval(d time.Duration) Option {
	return func(o *options) { o.resendInterval = d }
}

// WithLivenessTimeout overrides the connected-idle disconnect threshold
// (spec §4.3 "Liveness").
func WithLivenessTimeout(d time.Duration) Option {
	return func(o *options) { o.livenessTimeout = d }
}
