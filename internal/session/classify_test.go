package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"boletobot/internal/transport"
)

func TestClassifyLoggedOutStops(t *testing.T) {
	d := Classify(transport.CodeLoggedOut, 3, Policy{})
	assert.Equal(t, ActionStop, d.Action)
	assert.Equal(t, 3, d.Attempts)
}

func TestClassifyRestartRequiredResetsAttempts(t *testing.T) {
	d := Classify(transport.CodeRestartRequired, 4, Policy{})
	assert.Equal(t, ActionReconnect, d.Action)
	assert.Equal(t, time.Duration(0), d.Delay)
	assert.Equal(t, 0, d.Attempts)
}

func TestClassifyBadSessionWipes(t *testing.T) {
	d := Classify(transport.CodeBadSession, 2, Policy{BadSessionDelay: 1500 * time.Millisecond})
	assert.Equal(t, ActionWipeReconnect, d.Action)
	assert.Equal(t, 1500*time.Millisecond, d.Delay)
	assert.Equal(t, 2, d.Attempts)
}

func TestClassifyBackoffIncreasesThenGivesUp(t *testing.T) {
	p := Policy{Base: time.Second, MaxAttempts: 5}
	attempts := 0
	var last time.Duration
	for i := 0; i < 5; i++ {
		d := Classify(transport.CodeConnectionLost, attempts, p)
		assert.Equal(t, ActionReconnect, d.Action)
		assert.Greater(t, d.Delay, last)
		last = d.Delay
		attempts = d.Attempts
	}
	assert.Equal(t, 16*time.Second, last)
	assert.Equal(t, ActionGiveUp, Classify(transport.CodeConnectionLost, attempts, p).Action)
}

func TestClassifyUnknownCodeIsTransient(t *testing.T) {
	for _, code := range []int{0, transport.CodeConnectionClosed, transport.CodeUnavailable, 999} {
		d := Classify(code, 0, Policy{Base: 100 * time.Millisecond})
		assert.Equal(t, ActionReconnect, d.Action, code)
		assert.Equal(t, 100*time.Millisecond, d.Delay, code)
		assert.Equal(t, 1, d.Attempts, code)
	}
}
