package clock_test

import (
	"context"
	"testing"

	"connectrpc.com/connect"
	clockv1 "git.fiblab.net/sim/protos/v2/go/city/clock/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/agentsociety-signal/clock"
	"github.com/tsinghua-fib-lab/agentsociety-signal/utils/config"
)

func TestAdvance(t *testing.T) {
	c := clock.New(config.ControlStep{Start: 0, Total: 3, Interval: 1})
	assert.False(t, c.Done())
	c.Advance(1)
	c.Advance(-1)
	assert.Equal(t, int32(2), c.Step)
	assert.Equal(t, 2.0, c.T)
	c.Advance(3.5)
	assert.Equal(t, 3.5, c.T)
	assert.True(t, c.Done())
}

func TestString(t *testing.T) {
	c := clock.New(config.ControlStep{Interval: 1})
	c.Advance(3723.5)
	assert.Equal(t, "01:02:03", c.String())
	h, m, s := c.GetHourMinuteSecond()
	assert.Equal(t, 1, h)
	assert.Equal(t, 2, m)
	assert.InDelta(t, 3.5, s, 1e-9)
}

func TestNow(t *testing.T) {
	c := clock.New(config.ControlStep{Interval: 1})
	c.Advance(42)
	res, err := c.Now(context.Background(), connect.NewRequest(&clockv1.NowRequest{}))
	require.NoError(t, err)
	assert.Equal(t, 42.0, res.Msg.T)
}
