package lockout

import (
	"fmt"
	"time"

	apperrors "github.com/jwalitptl/secure-auth/pkg/errors"
)

const (
	DefaultThreshold = 5
	DefaultDuration  = 15 * time.Minute
)

// Policy holds the lockout parameters. It is fixed for the lifetime of a Guard.
type Policy struct {
	Threshold int           `mapstructure:"threshold" yaml:"threshold"`
	Duration  time.Duration `mapstructure:"duration" yaml:"duration"`
}

func DefaultPolicy() Policy {
	return Policy{
		Threshold: DefaultThreshold,
		Duration:  DefaultDuration,
	}
}

// Validate reports a configuration error for a threshold below 1 or a negative duration.
func (p Policy) Validate() error {
	if p.Threshold < 1 {
		return apperrors.Configuration(fmt.Sprintf("lockout threshold must be >= 1, got %d", p.Threshold), nil)
	}
	if p.Duration < 0 {
		return apperrors.Configuration(fmt.Sprintf("lockout duration must be >= 0, got %s", p.Duration), nil)
	}
	return nil
}
