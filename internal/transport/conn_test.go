package transport

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOfUnwraps(t *testing.T) {
	base := &CodeError{Code: CodeBadSession, Err: errors.New("corrupt")}
	wrapped := fmt.Errorf("connect: %w", base)

	assert.Equal(t, CodeBadSession, CodeOf(wrapped))
	assert.Equal(t, 0, CodeOf(errors.New("plain")))
	assert.Equal(t, 0, CodeOf(nil))
}

func TestConnClosedString(t *testing.T) {
	assert.Equal(t, "closed (401)", ConnClosed{Code: CodeLoggedOut}.String())
	assert.Equal(t, "closed (515): restart", ConnClosed{Code: CodeRestartRequired, Reason: "restart"}.String())
}
