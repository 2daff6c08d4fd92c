// 交通需求聚合：将绿灯相位下所有车道的原始统计量汇总为一个需求向量，并按衰减的历史最大值归一化
package telemetry

import (
	"fmt"
	"math"

	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity"
	"github.com/tsinghua-fib-lab/agentsociety-signal/utils/config"
)

// Aggregator 交通需求聚合器
type Aggregator struct {
	topo  entity.ITopology
	lanes entity.ILaneTelemetry

	decay float64 // 每步衰减系数
	floor float64 // 历史最大值下限

	maxDensity float64
	maxWait    float64
	maxQueue   float64
}

// New 创建聚合器
// 参数：topo-拓扑，lanes-车道遥测接口，c-归一化参数
func New(topo entity.ITopology, lanes entity.ILaneTelemetry, c config.Telemetry) *Aggregator {
	return &Aggregator{
		topo:       topo,
		lanes:      lanes,
		decay:      c.DecayFactor,
		floor:      c.Floor,
		maxDensity: c.Floor,
		maxWait:    c.Floor,
		maxQueue:   c.Floor,
	}
}

// BeginTick 每步开始时调用一次，历史最大值向近期交通衰减
func (a *Aggregator) BeginTick() {
	a.maxDensity = math.Max(a.maxDensity*a.decay, a.floor)
	a.maxWait = math.Max(a.maxWait*a.decay, a.floor)
	a.maxQueue = math.Max(a.maxQueue*a.decay, a.floor)
}

// Max 当前的历史最大值（密度、等待时间、排队）
func (a *Aggregator) Max() (density, wait, queue float64) {
	return a.maxDensity, a.maxWait, a.maxQueue
}

// DemandOf 路口每个绿灯相位的交通需求
// 功能：批量读取路口受控车道的统计量，按绿灯相位汇总并归一化
// 参数：id-路口ID
// 返回：绿灯相位序号->需求向量
// 算法说明：
// 1. 一次性读取所有绿灯车道的统计量，缺失的车道按0计
// 2. 每个相位：车辆数、排队数、等待时间求和；密度=Σ车辆数/max(车道长度,1)
// 3. 平均速度只在有车的车道上平均（空车道报告的是自由流速度）
// 4. 用各相位原始值抬升历史最大值，再以最大值归一化，结果截断到1
func (a *Aggregator) DemandOf(id string) (map[int]entity.DemandVector, error) {
	greens := a.topo.GreenPhases(id)
	if len(greens) == 0 {
		return map[int]entity.DemandVector{}, nil
	}
	lanes := lo.Uniq(lo.FlatMap(greens, func(p int, _ int) []string {
		return a.topo.GreenLanes(id, p)
	}))
	stats := map[string]entity.LaneStats{}
	if len(lanes) > 0 {
		var err error
		if stats, err = a.lanes.LaneStats(lanes); err != nil {
			return nil, fmt.Errorf("lane stats: %w", err)
		}
	}

	res := make(map[int]entity.DemandVector, len(greens))
	for _, p := range greens {
		var d entity.DemandVector
		speedSum, withVehicles := 0., 0
		for _, lane := range a.topo.GreenLanes(id, p) {
			s, ok := stats[lane]
			if !ok {
				log.Debugf("intersection %s: no stats for lane %s", id, lane)
				continue
			}
			d.Count += s.VehicleCount
			d.Queue += s.HaltingCount
			d.Wait += s.WaitingTime
			d.Density += float64(s.VehicleCount) / math.Max(a.topo.LaneLength(lane), 1)
			if s.VehicleCount > 0 {
				speedSum += s.MeanSpeed
				withVehicles++
			}
		}
		if withVehicles > 0 {
			d.MeanSpeed = speedSum / float64(withVehicles)
		}
		a.maxDensity = math.Max(a.maxDensity, d.Density)
		a.maxWait = math.Max(a.maxWait, d.Wait)
		a.maxQueue = math.Max(a.maxQueue, float64(d.Queue))
		res[p] = d
	}
	for p, d := range res {
		d.DensityNorm = math.Min(d.Density/a.maxDensity, 1)
		d.WaitNorm = math.Min(d.Wait/a.maxWait, 1)
		d.QueueNorm = math.Min(float64(d.Queue)/a.maxQueue, 1)
		res[p] = d
	}
	return res, nil
}
