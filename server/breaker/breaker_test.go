package breaker

import (
	"errors"
	"testing"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
)

func TestCircuitBreakerOpensAfterThreeFailures(t *testing.T) {
	cb := NewCircuitBreaker("email-provider", nil)
	boom := errors.New("boom")

	for i := 0; i < 3; i++ {
		_, err := cb.Execute(func() (interface{}, error) { return nil, boom })
		assert.Equal(t, boom, err)
	}

	assert.Equal(t, gobreaker.StateOpen, cb.State())

	_, err := cb.Execute(func() (interface{}, error) { return "unreachable", nil })
	assert.Equal(t, gobreaker.ErrOpenState, err)
}

func TestCircuitBreakerIgnoresFilteredErrors(t *testing.T) {
	rejected := errors.New("rejected")
	cb := NewCircuitBreakerIgnoring("twilio-dialer", func(err error) bool { return errors.Is(err, rejected) }, nil)

	for i := 0; i < 5; i++ {
		_, err := cb.Execute(func() (interface{}, error) { return nil, rejected })
		assert.Equal(t, rejected, err, "the error still reaches the caller")
	}

	assert.Equal(t, gobreaker.StateClosed, cb.State())
}
