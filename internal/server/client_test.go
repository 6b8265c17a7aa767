package server

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/skillnest/realtime/internal/stats"
	"github.com/skillnest/realtime/internal/testutil"
	"github.com/skillnest/realtime/internal/types"
)

func newBareClient(t *testing.T) *Client {
	g := &Gateway{
		log:   testutil.TestLogger(t),
		stats: stats.NopStats{},
		opts:  GatewayOptions{InboundRate: 1, InboundBurst: 1},
	}
	return newClient(g, types.User{Id: 1, Username: "alice"}, Target{Kind: TargetChat})
}

func TestDeliverClosesSlowConsumer(t *testing.T) {
	c := newBareClient(t)

	for i := 0; i < sendQueueSize; i++ {
		assert.True(t, c.Deliver([]byte("x")))
	}

	assert.False(t, c.Deliver([]byte("overflow")))
	select {
	case <-c.stop:
	default:
		t.Fatal("expected the client to be stopped")
	}
	assert.Equal(t, CloseSlowConsumer, c.closeCode)

	assert.False(t, c.Deliver([]byte("after close")), "a stopped client accepts nothing")
}

func TestCloseWithKeepsFirstCode(t *testing.T) {
	c := newBareClient(t)

	c.closeWith(CloseSlowConsumer, "slow consumer")
	c.closeWith(1001, "server shutting down")

	assert.Equal(t, CloseSlowConsumer, c.closeCode)
	assert.Equal(t, "slow consumer", c.closeReason)
}

func TestQueueEventEncodesFrame(t *testing.T) {
	c := newBareClient(t)

	assert.True(t, c.queueEvent(types.ErrorEvent{Code: "rate_limited", Message: "too many messages"}))
	payload := <-c.send
	assert.JSONEq(t, `{"type":"error","code":"rate_limited","message":"too many messages"}`, string(payload))
}
