package telemetry_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity/fakesim"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity/telemetry"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity/topology"
	"github.com/tsinghua-fib-lab/agentsociety-signal/utils/config"
)

func setup(t *testing.T) (*fakesim.Sim, *telemetry.Aggregator) {
	sim := fakesim.New(1)
	sim.AddLight("J", "0", []string{"GGrr", "yyrr", "rrGG", "rryy"}, []float64{30, 3}, []string{"n_0", "n_1", "e_0", "e_1"})
	sim.LaneLengths = map[string]float64{"n_0": 100, "n_1": 50, "e_0": 0.5, "e_1": 100}
	topo, err := topology.Discover(sim, 100)
	require.NoError(t, err)
	return sim, telemetry.New(topo, sim, config.Default().Telemetry)
}

func TestDemandOf(t *testing.T) {
	sim, agg := setup(t)
	sim.Lanes["n_0"] = entity.LaneStats{VehicleCount: 10, HaltingCount: 4, WaitingTime: 20, MeanSpeed: 5}
	sim.Lanes["n_1"] = entity.LaneStats{VehicleCount: 0, HaltingCount: 0, WaitingTime: 0, MeanSpeed: 13.9}
	sim.Lanes["e_0"] = entity.LaneStats{VehicleCount: 1, HaltingCount: 1, WaitingTime: 2, MeanSpeed: 0}

	agg.BeginTick()
	d, err := agg.DemandOf("J")
	require.NoError(t, err)
	require.Len(t, d, 2)

	n := d[0]
	assert.Equal(t, 10, n.Count)
	assert.Equal(t, 4, n.Queue)
	assert.Equal(t, 20.0, n.Wait)
	assert.InDelta(t, 0.1, n.Density, 1e-9)
	assert.Equal(t, 5.0, n.MeanSpeed, "empty lanes are excluded from the speed average")

	e := d[2]
	assert.Equal(t, 1, e.Count)
	assert.InDelta(t, 1.0, e.Density, 1e-9, "lane length is floored at 1m")

	// maxima: density floor 1.0, wait 20, queue 4
	assert.InDelta(t, 0.1, n.DensityNorm, 1e-9)
	assert.InDelta(t, 1.0, n.WaitNorm, 1e-9)
	assert.InDelta(t, 1.0, n.QueueNorm, 1e-9)
	assert.InDelta(t, 0.1, e.WaitNorm, 1e-9)
	assert.InDelta(t, 0.25, e.QueueNorm, 1e-9)
}

func TestMaximaDecayToFloor(t *testing.T) {
	sim, agg := setup(t)
	sim.Lanes["n_0"] = entity.LaneStats{VehicleCount: 5, HaltingCount: 2, WaitingTime: 10}
	agg.BeginTick()
	_, err := agg.DemandOf("J")
	require.NoError(t, err)
	_, wait, _ := agg.Max()
	assert.Equal(t, 10.0, wait)

	agg.BeginTick()
	_, wait, _ = agg.Max()
	assert.InDelta(t, 10*0.995, wait, 1e-9)

	delete(sim.Lanes, "n_0")
	for range 2000 {
		agg.BeginTick()
	}
	density, wait, queue := agg.Max()
	assert.Equal(t, 1.0, density)
	assert.Equal(t, 1.0, wait)
	assert.Equal(t, 1.0, queue)
}

func TestNormalizedIsBounded(t *testing.T) {
	sim, agg := setup(t)
	sim.Lanes["n_0"] = entity.LaneStats{VehicleCount: 100, HaltingCount: 50, WaitingTime: 900}
	agg.BeginTick()
	_, err := agg.DemandOf("J")
	require.NoError(t, err)
	sim.Lanes["n_0"] = entity.LaneStats{VehicleCount: 300, HaltingCount: 80, WaitingTime: 5000}
	agg.BeginTick()
	d, err := agg.DemandOf("J")
	require.NoError(t, err)
	for _, v := range d {
		assert.LessOrEqual(t, v.DensityNorm, 1.0)
		assert.LessOrEqual(t, v.WaitNorm, 1.0)
		assert.LessOrEqual(t, v.QueueNorm, 1.0)
		assert.GreaterOrEqual(t, v.WaitNorm, 0.0)
	}
}

func TestLaneStatsFailure(t *testing.T) {
	sim, agg := setup(t)
	sim.FailOn("LaneStats", "", assert.AnError)
	_, err := agg.DemandOf("J")
	assert.ErrorIs(t, err, assert.AnError)
}
