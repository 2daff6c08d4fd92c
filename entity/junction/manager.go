package junction

import (
	"fmt"
	"maps"
	"sort"

	mapv2connect "git.fiblab.net/sim/protos/v2/go/city/map/v2/mapv2connect"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity"
	"github.com/tsinghua-fib-lab/agentsociety-signal/utils/config"
)

// Manager 自适应信控决策引擎
// 功能：维护所有路口的信控状态，每步对未被接管的路口做延长或切换决策
type Manager struct {
	mapv2connect.UnimplementedTrafficLightServiceHandler

	ctx     entity.ITaskContext
	topo    entity.ITopology
	signals entity.ISignalControl
	demand  entity.IDemandSource

	c  config.Signal
	dt float64

	data      map[string]*Junction
	junctions []*Junction
}

// NewManager 创建决策引擎
// 功能：根据拓扑为每个路口建立状态记录
// 参数：ctx-任务上下文，topo-拓扑，signals-信号控制接口，demand-交通需求
// 返回：决策引擎
// 说明：没有绿灯相位的路口保留记录但不参与控制
func NewManager(
	ctx entity.ITaskContext,
	topo entity.ITopology,
	signals entity.ISignalControl,
	demand entity.IDemandSource,
) *Manager {
	m := &Manager{
		ctx:     ctx,
		topo:    topo,
		signals: signals,
		demand:  demand,
		c:       ctx.Config().Signal,
		dt:      ctx.Clock().DT,
	}
	m.junctions = lo.Map(topo.IDs(), func(id string, _ int) *Junction {
		return newJunction(id, topo.GreenPhases(id), topo.HasMultipleGreenPhases(id), m.c.DefaultGreen)
	})
	m.data = lo.SliceToMap(m.junctions, func(j *Junction) (string, *Junction) {
		return j.id, j
	})
	for _, j := range m.junctions {
		if !j.controllable {
			log.Warnf("intersection %s has no green phase, adaptive control disabled", j.id)
		}
	}
	return m
}

// Get 根据ID获取路口状态，如果不存在则panic
func (m *Manager) Get(id string) *Junction {
	if j, ok := m.data[id]; !ok {
		log.Panicf("no id %s in junction data", id)
		return nil
	} else {
		return j
	}
}

// GetOrError 根据ID获取路口状态，如果不存在则返回错误
func (m *Manager) GetOrError(id string) (*Junction, error) {
	if j, ok := m.data[id]; !ok {
		return nil, fmt.Errorf("%w: %s", entity.ErrUnknownIntersection, id)
	} else {
		return j, nil
	}
}

// Step 执行一步决策
// 参数：tick-当前步数
// 返回：本步各路口的控制错误，每个错误只导致对应路口跳过本步
func (m *Manager) Step(tick int32) []error {
	errs := make([]error, 0)
	for _, j := range m.junctions {
		if j.suppressed || j.disabled || !j.controllable {
			continue
		}
		if err := m.decide(j, tick); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// MarkSuppressed 紧急优先接管路口，决策引擎跳过该路口
func (m *Manager) MarkSuppressed(id string) {
	if j, ok := m.data[id]; ok {
		j.suppressed = true
	}
}

// MarkResumed 紧急优先结束，清除接管标记并以刚进入绿灯的状态重新计时
func (m *Manager) MarkResumed(id string, tick int32) {
	j, ok := m.data[id]
	if !ok {
		return
	}
	j.suppressed = false
	j.reset(tick, m.c.DefaultGreen)
	j.lastPhase = -1
}

// CurrentlySuppressed 当前被接管的路口（有序）
func (m *Manager) CurrentlySuppressed() []string {
	res := make([]string, 0)
	for _, j := range m.junctions {
		if j.suppressed {
			res = append(res, j.id)
		}
	}
	sort.Strings(res)
	return res
}

// Stats 决策统计
func (m *Manager) Stats() entity.DecisionStats {
	stats := entity.DecisionStats{
		SwitchCount: make(map[string]int, len(m.junctions)),
		TimeServed:  make(map[string]map[int]float64, len(m.junctions)),
	}
	for _, j := range m.junctions {
		stats.SwitchCount[j.id] = j.switchCount
		stats.TimeServed[j.id] = maps.Clone(j.timeServed)
		if j.suppressed {
			stats.SuppressedCount++
		}
	}
	return stats
}

// TotalSwitches 所有路口的切换次数之和
func (m *Manager) TotalSwitches() int {
	return lo.SumBy(m.junctions, func(j *Junction) int { return j.switchCount })
}

var _ entity.ISuppressor = (*Manager)(nil)
