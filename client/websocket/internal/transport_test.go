package internal

import (
	"context"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
)

// Send must fail with ErrNotConnected even while the state mutex is held by
// another goroutine: writeLoop reads the connection under its own guard, so
// a state-change callback stalling with mtx held can't wedge pending writes
// (and, through them, the client's event loop).
func TestSendWhileStateMutexHeld(t *testing.T) {
	c, err := NewStreamTransportConn(&StreamTransportParams{
		URL: "ws://localhost:1",
	})
	assert.NoError(t, err)

	c.mtx.Lock()
	defer c.mtx.Unlock()

	// If writeLoop needed mtx, this Send would hang until the deadline and
	// return context.DeadlineExceeded instead.
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	err = c.Send(ctx, []byte("ping"))
	assert.Equal(t, ErrNotConnected, errors.Cause(err))
}
