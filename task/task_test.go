package task

import (
	"errors"
	"strings"
	"testing"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity/fakesim"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity/topology"
	"github.com/tsinghua-fib-lab/agentsociety-signal/utils/config"
)

// scriptedSim 每步推进后执行脚本
type scriptedSim struct {
	*fakesim.Sim
	steps  int
	script func(step int)
	failAt int
}

func (s *scriptedSim) Step() error {
	s.steps++
	if s.failAt > 0 && s.steps == s.failAt {
		return errors.New("bridge gone")
	}
	if err := s.Sim.Step(); err != nil {
		return err
	}
	if s.script != nil {
		s.script(s.steps)
	}
	return nil
}

func newSim() *scriptedSim {
	sim := fakesim.New(1)
	sim.AddLight("J", "0", []string{"GGrr", "yyrr", "rrrr", "rrGG", "rryy", "rrrr"}, []float64{30, 3, 2}, []string{"n_0", "n_1", "e_0", "e_1"})
	sim.Pending = 1
	return &scriptedSim{Sim: sim}
}

func newTask(t *testing.T, sim *scriptedSim, mutate func(c *config.Config)) *Context {
	c := config.Default()
	c.Control.Step.Total = 100
	if mutate != nil {
		mutate(&c)
	}
	topo, err := topology.Discover(sim, c.Telemetry.DefaultLaneLength)
	require.NoError(t, err)
	return New("test", c, sim, topo, nil)
}

func TestRunUntilStepLimit(t *testing.T) {
	sim := newSim()
	ctx := newTask(t, sim, nil)
	s := ctx.Run()
	assert.Equal(t, int32(100), s.Steps)
	assert.Equal(t, ReasonStepLimit, s.Reason)
	assert.Equal(t, 100, sim.steps)
	assert.Equal(t, 100.0, ctx.Clock().T)
	assert.True(t, sim.Closed)
}

func TestRunStopsWhenDrained(t *testing.T) {
	sim := newSim()
	sim.script = func(step int) {
		if step == 10 {
			sim.Pending = 0
		}
	}
	s := newTask(t, sim, nil).Run()
	assert.Equal(t, ReasonDrained, s.Reason)
	assert.Equal(t, int32(10), s.Steps)

	sim = newSim()
	sim.Pending = 0
	s = newTask(t, sim, func(c *config.Config) { c.Control.StopWhenDrained = false }).Run()
	assert.Equal(t, ReasonStepLimit, s.Reason)
}

func TestRunEndsOnSimulationError(t *testing.T) {
	sim := newSim()
	sim.failAt = 5
	s := newTask(t, sim, nil).Run()
	assert.Equal(t, ReasonSimError, s.Reason)
	assert.Equal(t, int32(4), s.Steps)
	assert.True(t, sim.Closed)
}

func TestStop(t *testing.T) {
	sim := newSim()
	ctx := newTask(t, sim, nil)
	sim.script = func(step int) {
		if step == 3 {
			ctx.Stop()
		}
	}
	s := ctx.Run()
	assert.Equal(t, ReasonStopped, s.Reason)
	assert.Equal(t, int32(3), s.Steps)
}

func TestPreemptionRunsBeforeDecision(t *testing.T) {
	sim := newSim()
	up := entity.UpcomingSignal{Intersection: "J", LinkIndex: 2, Distance: 60, State: "r"}
	var decisionWrites []string
	// 相位0在第16步达到最短绿灯时长，此时车辆出现
	sim.script = func(step int) {
		switch step {
		case 14:
			sim.SetVehicle("emergency", "emergency", up)
		case 40:
			sim.RemoveVehicle("emergency")
		}
		if step > 15 && step < 40 {
			for _, c := range sim.Writes("J") {
				if c.Op == "SetActivePhase" || c.Op == "SetPhaseDuration" {
					decisionWrites = append(decisionWrites, c.Op)
				}
			}
		}
		sim.ResetCalls()
	}
	sim.Lanes["e_0"] = entity.LaneStats{VehicleCount: 10, HaltingCount: 10, WaitingTime: 300}
	ctx := newTask(t, sim, nil)
	s := ctx.Run()

	assert.Empty(t, decisionWrites, "decision engine never commands an overridden intersection")
	assert.Equal(t, 1, s.Preemption.TotalPreemptions)
	assert.Equal(t, s.Preemption.TotalPreemptions, s.Preemption.TotalRestorations)
	assert.Empty(t, s.Residual)
	program, _ := sim.ActiveProgram("J")
	assert.Equal(t, "0", program)
}

func TestShutdownRestoresOverrides(t *testing.T) {
	sim := newSim()
	sim.SetVehicle("emergency", "emergency", entity.UpcomingSignal{Intersection: "J", LinkIndex: 0, Distance: 20})
	s := newTask(t, sim, func(c *config.Config) { c.Control.Step.Total = 10 }).Run()
	assert.Equal(t, 1, s.Preemption.TotalPreemptions)
	assert.Equal(t, 1, s.Preemption.TotalRestorations)
	assert.Empty(t, s.Residual)
	assert.False(t, sim.Online("J"))
}

func TestDebugIntersectionDump(t *testing.T) {
	hook := logtest.NewGlobal()
	level := logrus.GetLevel()
	logrus.SetLevel(logrus.DebugLevel)
	defer func() {
		logrus.SetLevel(level)
		logrus.StandardLogger().ReplaceHooks(make(logrus.LevelHooks))
	}()

	sim := newSim()
	ctx := newTask(t, sim, func(c *config.Config) { c.Control.Step.Total = 25 })
	ctx.DebugIntersection("J")
	ctx.Run()

	ticks := make(map[string]int)
	for _, e := range hook.AllEntries() {
		if e.Level != logrus.DebugLevel {
			continue
		}
		for _, tick := range []string{"step 10:", "step 20:"} {
			if strings.HasPrefix(e.Message, "debug J "+tick) {
				ticks[tick]++
			}
		}
		assert.NotContains(t, e.Message, "debug J step 5:")
	}
	// 两个绿灯相位的需求加一条相位类型
	assert.Equal(t, 3, ticks["step 10:"])
	assert.Equal(t, 3, ticks["step 20:"])
	assert.True(t, lo.ContainsBy(hook.AllEntries(), func(e *logrus.Entry) bool {
		return strings.HasPrefix(e.Message, "intersection J: program=")
	}), "topology dumped")
}
