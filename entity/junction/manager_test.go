package junction_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/agentsociety-signal/clock"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity/fakesim"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity/junction"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity/topology"
	"github.com/tsinghua-fib-lab/agentsociety-signal/utils/config"
)

type taskCtx struct {
	clock *clock.Clock
	c     config.Config
}

func (t *taskCtx) Clock() *clock.Clock   { return t.clock }
func (t *taskCtx) Config() config.Config { return t.c }

// demand 按路口、相位直接给出归一化需求
type demand map[string]map[int]entity.DemandVector

func (d demand) DemandOf(id string) (map[int]entity.DemandVector, error) {
	return d[id], nil
}

// uniform 三项归一化需求相同时评分等于该值
func uniform(v float64) entity.DemandVector {
	return entity.DemandVector{DensityNorm: v, WaitNorm: v, QueueNorm: v}
}

type fixture struct {
	sim    *fakesim.Sim
	ctx    *taskCtx
	demand demand
	m      *junction.Manager
}

func newFixture(t *testing.T, mutate func(c *config.Config)) *fixture {
	c := config.Default()
	if mutate != nil {
		mutate(&c)
	}
	sim := fakesim.New(1)
	// 两个绿灯相位，含全红清空
	sim.AddLight("J", "0", []string{"GGrr", "yyrr", "rrrr", "rrGG", "rryy", "rrrr"}, []float64{30, 3, 2}, []string{"n_0", "n_1", "e_0", "e_1"})
	// 三个绿灯相位
	sim.AddLight("T", "0", []string{"Grr", "yrr", "rGr", "ryr", "rrG", "rry"}, []float64{30, 3}, []string{"n_0", "e_0", "s_0"})
	// 单绿灯相位
	sim.AddLight("S", "0", []string{"GG", "yy", "rr"}, []float64{30, 3, 2}, []string{"w_0", "w_1"})
	// 没有黄灯相位
	sim.AddLight("D", "0", []string{"Gr", "rG"}, []float64{30}, []string{"a_0", "b_0"})
	topo, err := topology.Discover(sim, 100)
	require.NoError(t, err)
	f := &fixture{
		sim:    sim,
		ctx:    &taskCtx{clock: clock.New(c.Control.Step), c: c},
		demand: demand{},
	}
	f.m = junction.NewManager(f.ctx, topo, sim, f.demand)
	return f
}

func (f *fixture) setPhase(id string, phase int) {
	f.sim.Lights[id].Phase = phase
}

func (f *fixture) ops(id string) []string {
	res := make([]string, 0)
	for _, c := range f.sim.Writes(id) {
		res = append(res, c.Op)
	}
	return res
}

func TestNoDecisionBeforeMinPhaseDuration(t *testing.T) {
	f := newFixture(t, nil)
	f.demand["J"] = map[int]entity.DemandVector{0: uniform(0), 3: uniform(1)}
	for tick := int32(0); tick < 15; tick++ {
		assert.Empty(t, f.m.Step(tick))
	}
	assert.Empty(t, f.ops("J"))
	assert.Equal(t, 0, f.m.Get("J").SwitchCount())

	assert.Empty(t, f.m.Step(15))
	assert.Equal(t, []string{"SetActivePhase"}, f.ops("J"))
}

func TestExtendBelowThreshold(t *testing.T) {
	f := newFixture(t, nil)
	f.demand["J"] = map[int]entity.DemandVector{0: uniform(0.50), 3: uniform(0.58)}
	f.m.Step(0)
	f.m.Step(15)

	j := f.m.Get("J")
	assert.Equal(t, 0, j.SwitchCount())
	assert.InDelta(t, 60.6, j.Allocated(), 1e-9)
	calls := f.sim.Writes("J")
	require.Len(t, calls, 1)
	assert.Equal(t, "SetPhaseDuration", calls[0].Op)
	assert.InDelta(t, 60.6, calls[0].Arg, 1e-9)
	_, pending := j.Pending()
	assert.False(t, pending)
}

func TestSwitchThroughWarningWithoutInterruption(t *testing.T) {
	f := newFixture(t, nil)
	f.demand["J"] = map[int]entity.DemandVector{0: uniform(0.2), 3: uniform(0.7)}
	f.m.Step(0)
	f.m.Step(15)

	j := f.m.Get("J")
	assert.Equal(t, 1, j.SwitchCount())
	assert.Equal(t, 0, j.SkipCount(3))
	target, pending := j.Pending()
	require.True(t, pending)
	assert.Equal(t, 3, target)
	phase, _ := f.sim.ActivePhase("J")
	assert.Equal(t, 1, phase, "switches to the warning phase after green 0")

	f.sim.ResetCalls()
	f.m.Step(16) // 黄灯
	f.setPhase("J", 2)
	f.m.Step(17) // 全红
	f.m.Step(18)
	assert.Empty(t, f.ops("J"), "transition phases are never interrupted")
	_, pending = j.Pending()
	assert.True(t, pending)

	f.setPhase("J", 3)
	f.m.Step(19)
	_, pending = j.Pending()
	assert.False(t, pending)
	assert.Equal(t, int32(19), j.PhaseStartTick())
	assert.Equal(t, 25.0, j.Allocated())
	assert.Empty(t, f.ops("J"))
}

func TestSwitchWhenAllocatedExpires(t *testing.T) {
	f := newFixture(t, nil)
	f.demand["J"] = map[int]entity.DemandVector{0: uniform(0.50), 3: uniform(0.55)}
	f.m.Step(0)
	j := f.m.Get("J")
	for tick := int32(15); tick <= 58; tick++ {
		f.m.Step(tick)
		assert.Equal(t, 0, j.SwitchCount(), "tick %d", tick)
	}
	assert.InDelta(t, 58.5, j.Allocated(), 1e-9)
	f.m.Step(59)
	assert.Equal(t, 1, j.SwitchCount())
}

func TestStarvationForcesSwitch(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Signal.FairnessMaxSkip = 3 })
	j := f.m.Get("T")
	tick := int32(0)
	cycle := func(cur, favoured int) {
		f.setPhase("T", cur)
		f.demand["T"] = map[int]entity.DemandVector{0: uniform(0.1), 2: uniform(0.1), 4: uniform(0)}
		f.demand["T"][favoured] = uniform(0.9)
		f.m.Step(tick)
		f.m.Step(tick + 15)
		tick += 20
	}
	cycle(0, 2)
	assert.Equal(t, 1, j.SkipCount(4))
	cycle(2, 0)
	cycle(0, 2)
	assert.Equal(t, 3, j.SkipCount(4))

	cycle(2, 0)
	target, pending := j.Pending()
	require.True(t, pending)
	assert.Equal(t, 4, target, "a phase at the skip limit is served the cycle it is reached")
	assert.Equal(t, 0, j.SkipCount(4))
	assert.Equal(t, 1, j.SkipCount(0))
	assert.Equal(t, 4, j.SwitchCount())
}

func TestSingleGreenOnlyTunesDuration(t *testing.T) {
	f := newFixture(t, nil)
	f.demand["S"] = map[int]entity.DemandVector{0: uniform(1)}
	j := f.m.Get("S")
	for tick := int32(0); tick < 200; tick++ {
		f.m.Step(tick)
		if tick >= 15 {
			assert.GreaterOrEqual(t, j.Allocated(), 20.0)
			assert.LessOrEqual(t, j.Allocated(), 90.0)
		}
	}
	assert.Equal(t, 0, j.SwitchCount())
	_, pending := j.Pending()
	assert.False(t, pending)
	for _, op := range f.ops("S") {
		assert.Equal(t, "SetPhaseDuration", op)
	}
	assert.Equal(t, 90.0, j.Allocated())
}

func TestDirectSwitchWithoutWarningPhase(t *testing.T) {
	f := newFixture(t, nil)
	f.demand["D"] = map[int]entity.DemandVector{0: uniform(0), 1: uniform(0.8)}
	f.m.Step(0)
	f.m.Step(15)

	j := f.m.Get("D")
	assert.Equal(t, 1, j.SwitchCount())
	calls := f.sim.Writes("D")
	require.Len(t, calls, 2)
	assert.Equal(t, "SetActivePhase", calls[0].Op)
	assert.Equal(t, 1, calls[0].Arg)
	assert.Equal(t, "SetPhaseDuration", calls[1].Op)
	assert.InDelta(t, 55.0, calls[1].Arg, 1e-9)
	_, pending := j.Pending()
	assert.False(t, pending)

	f.m.Step(16)
	assert.Equal(t, int32(15), j.PhaseStartTick())
	assert.Equal(t, 55.0, j.Allocated())
}

func TestControlErrorSkipsOnlyThatIntersection(t *testing.T) {
	f := newFixture(t, nil)
	f.demand["J"] = map[int]entity.DemandVector{0: uniform(0), 3: uniform(1)}
	f.demand["T"] = map[int]entity.DemandVector{0: uniform(0), 2: uniform(1), 4: uniform(0)}
	f.sim.FailOn("ActivePhase", "J", errors.New("connection reset"))
	f.m.Step(0)
	errs := f.m.Step(15)
	require.Len(t, errs, 1)
	var ce *entity.ControlError
	require.ErrorAs(t, errs[0], &ce)
	assert.Equal(t, "J", ce.Intersection)
	assert.Equal(t, "get_phase", ce.Op)
	assert.Equal(t, 1, f.m.Get("T").SwitchCount())

	f.sim.ClearFailures()
	f.sim.FailOn("SetActivePhase", "J", errors.New("rejected"))
	assert.Empty(t, f.m.Step(16))
	errs = f.m.Step(31)
	require.Len(t, errs, 1)
	require.ErrorAs(t, errs[0], &ce)
	assert.Equal(t, "set_phase", ce.Op)
	assert.Equal(t, 0, f.m.Get("J").SwitchCount())
	_, pending := f.m.Get("J").Pending()
	assert.False(t, pending)
}

func TestSuppressionAndResume(t *testing.T) {
	f := newFixture(t, nil)
	f.demand["J"] = map[int]entity.DemandVector{0: uniform(0), 3: uniform(1)}
	f.m.Step(0)
	f.m.MarkSuppressed("J")
	assert.Equal(t, []string{"J"}, f.m.CurrentlySuppressed())
	assert.Equal(t, 1, f.m.Stats().SuppressedCount)
	for tick := int32(1); tick <= 10; tick++ {
		f.m.Step(tick)
	}
	assert.Empty(t, f.ops("J"))

	f.m.MarkResumed("J", 11)
	assert.Empty(t, f.m.CurrentlySuppressed())
	f.m.Step(11)
	j := f.m.Get("J")
	assert.Equal(t, int32(11), j.PhaseStartTick())
	assert.Equal(t, 25.0, j.Allocated())
	assert.False(t, j.Suppressed())
}

func TestExternalPhaseChangeResetsTracking(t *testing.T) {
	f := newFixture(t, nil)
	f.demand["J"] = map[int]entity.DemandVector{0: uniform(0.5), 3: uniform(0.5)}
	f.m.Step(0)
	f.m.Step(20)
	j := f.m.Get("J")
	assert.Equal(t, int32(0), j.PhaseStartTick())

	f.setPhase("J", 3)
	f.m.Step(21)
	assert.Equal(t, int32(21), j.PhaseStartTick())
	assert.Equal(t, 3, j.LastPhase())
}

func TestTimeServed(t *testing.T) {
	f := newFixture(t, nil)
	f.demand["J"] = map[int]entity.DemandVector{0: uniform(0.5), 3: uniform(0.5)}
	for tick := int32(0); tick < 5; tick++ {
		f.m.Step(tick)
	}
	f.setPhase("J", 1)
	f.m.Step(5)
	assert.Equal(t, 5.0, f.m.Get("J").TimeServed(0))
	assert.Equal(t, 0.0, f.m.Get("J").TimeServed(3))
	assert.Equal(t, 5.0, f.m.Stats().TimeServed["J"][0])
}

func TestGetOrError(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.m.GetOrError("missing")
	assert.ErrorIs(t, err, entity.ErrUnknownIntersection)
	j, err := f.m.GetOrError("J")
	require.NoError(t, err)
	assert.Equal(t, "J", j.ID())
}
