package apperrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/palemoky/realtime-chat/internal/protocol"
)

func TestTransportError_IsMatchesByCode(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("dial: %w", New(protocol.ErrCodeNotConnected, "custom text"))
	assert.True(t, errors.Is(wrapped, ErrNotConnected))
	assert.False(t, errors.Is(wrapped, ErrClosed))
}

func TestTransportError_Message(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "发送缓冲区已满", ErrSendBufferFull.Error())
	assert.Equal(t, protocol.ErrCodeConnectionClosed, ErrClosed.Code)
}
