package session

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-zeromq/zmq4"
	"github.com/go-zeromq/zmq4/security/null"
	"github.com/go-zeromq/zmq4/security/plain"
)

// SecurityMechanism names a ZMTP security mechanism.
type SecurityMechanism string

const (
	SecurityNull  SecurityMechanism = "null"
	SecurityPlain SecurityMechanism = "plain"
)

// SecurityConfig selects the ZMTP handshake used when dialing the bridge.
type SecurityConfig struct {
	Mechanism SecurityMechanism
	Username  string
	Password  string
}

var (
	ErrInvalidSecurityMechanism = errors.New("session: invalid security mechanism")
	ErrPlainUsernameRequired    = errors.New("session: plain username required")
)

func NormalizeSecurityMechanism(m SecurityMechanism) SecurityMechanism {
	if strings.TrimSpace(string(m)) == "" {
		return SecurityNull
	}
	return SecurityMechanism(strings.ToLower(strings.TrimSpace(string(m))))
}

// ValidateSecurity checks that the configured mechanism is usable.
func (c Config) ValidateSecurity() error {
	switch NormalizeSecurityMechanism(c.Security.Mechanism) {
	case SecurityNull:
		return nil
	case SecurityPlain:
		if strings.TrimSpace(c.Security.Username) == "" {
			return ErrPlainUsernameRequired
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidSecurityMechanism, c.Security.Mechanism)
	}
}

func (c Config) securityOption() zmq4.Option {
	if NormalizeSecurityMechanism(c.Security.Mechanism) == SecurityPlain {
		return zmq4.WithSecurity(plain.Security(c.Security.Username, c.Security.Password))
	}
	return zmq4.WithSecurity(null.Security())
}
