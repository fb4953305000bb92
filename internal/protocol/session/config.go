package session

import "time"

// Config defines transport/session defaults for one bridge endpoint.
type Config struct {
	// ReceiveTimeout is the wait used by callers that do not pass their own.
	ReceiveTimeout time.Duration
	DialRetry      time.Duration
	DialMaxRetries int
	Backoff        BackoffConfig
	Security       SecurityConfig
}

// DefaultConfig returns the defaults used by the CLI and the broker.
func DefaultConfig() Config {
	return Config{
		ReceiveTimeout: 100 * time.Millisecond,
		DialRetry:      250 * time.Millisecond,
		DialMaxRetries: 4,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
		Security: SecurityConfig{Mechanism: SecurityNull},
	}
}
