package junction

import (
	"fmt"
	"math"

	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity"
	"github.com/tsinghua-fib-lab/agentsociety-signal/metrics"
	"github.com/tsinghua-fib-lab/agentsociety-signal/utils/container"
)

// decide 单个路口的一步决策
// 算法说明：
// 1. 读取当前相位，过渡相位（黄灯、全红）不做任何操作，交由信号程序完成
// 2. 绿灯相位与上一步观测的相位不同：视为刚进入的绿灯，重新计时并清除待到达目标
// 3. 绿灯时长未达到MIN_PHASE_DURATION时不做决策
// 4. 单绿灯路口：只按需求调整时长
// 5. 多绿灯路口：计算所有绿灯相位评分，取最高者
//   - 最优即当前相位：按最优评分延长
//   - 评分差达到阈值、时长用尽或最优相位饥饿：经黄灯切换
//   - 否则按最优评分延长当前相位
//
// 说明：存在跳过次数达到上限的相位时强制选中该相位
func (m *Manager) decide(j *Junction, tick int32) error {
	cur, err := m.signals.ActivePhase(j.id)
	if err != nil {
		return entity.NewControlError(j.id, "get_phase", err)
	}
	typ, ok := m.topo.PhaseType(j.id, cur)
	if !ok {
		return entity.NewControlError(j.id, "classify", fmt.Errorf("%w: %d", entity.ErrUnknownPhase, cur))
	}
	if typ.IsTransition() {
		j.lastPhase = cur
		return nil
	}

	if cur != j.lastPhase {
		if j.hasPending && j.pendingTarget != cur {
			log.Warnf("intersection %s: arrived at green %d, expected %d", j.id, cur, j.pendingTarget)
		}
		j.reset(tick, m.c.DefaultGreen)
		j.lastPhase = cur
	}
	elapsed := float64(tick-j.phaseStartTick) * m.dt
	if elapsed < 0 {
		j.phaseStartTick = tick
		elapsed = 0
	}
	if _, ok := j.timeServed[cur]; ok {
		j.timeServed[cur] += m.dt
	}
	if elapsed < m.c.MinPhaseDuration {
		return nil
	}

	demand, err := m.demand.DemandOf(j.id)
	if err != nil {
		return entity.NewControlError(j.id, "demand", err)
	}
	scores := lo.SliceToMap(j.greens, func(p int) (int, float64) {
		return p, m.score(demand[p], j.skipCount[p])
	})
	if !j.multiGreen {
		return m.extend(j, m.duration(scores[cur]))
	}

	pq := container.NewPriorityQueue[int]()
	for _, p := range j.greens {
		pq.Push(p, -scores[p]) // 小顶堆，评分越高越靠前，同分时序号小者优先
	}
	pq.Heapify()
	best, _ := pq.HeapPop()
	starving := false
	if p, ok := m.starved(j, cur); ok {
		best, starving = p, true
	}
	if best == cur {
		return m.extend(j, m.duration(scores[best]))
	}
	gap := scores[best] - scores[cur]
	if gap >= m.c.SwitchThreshold || elapsed >= j.allocated || starving {
		return m.switchTo(j, cur, best, tick)
	}
	return m.extend(j, m.duration(scores[best]))
}

// starved 跳过次数达到上限的非当前绿灯相位，取跳过最多者，同次数取序号小者
func (m *Manager) starved(j *Junction, cur int) (int, bool) {
	best, most := -1, -1
	for _, p := range j.greens {
		if p == cur || j.skipCount[p] < m.c.FairnessMaxSkip {
			continue
		}
		if j.skipCount[p] > most {
			best, most = p, j.skipCount[p]
		}
	}
	return best, best >= 0
}

// score 相位评分 = 加权归一化需求 + 公平性奖励（有上限）
func (m *Manager) score(d entity.DemandVector, skip int) float64 {
	w := m.c.Weights
	base := w.Density*d.DensityNorm + w.Wait*d.WaitNorm + w.Queue*d.QueueNorm
	return base + math.Min(float64(skip)*m.c.FairnessBonusPerSkip, m.c.FairnessBonusCap)
}

// duration 评分映射为绿灯时长，评分截断到[0,1]，结果保留一位小数
func (m *Manager) duration(score float64) float64 {
	s := lo.Clamp(score, 0, 1)
	d := m.c.MinGreen + s*(m.c.MaxGreen-m.c.MinGreen)
	return lo.Clamp(math.Round(d*10)/10, m.c.MinGreen, m.c.MaxGreen)
}

// extend 设置当前绿灯相位的时长
func (m *Manager) extend(j *Junction, d float64) error {
	if err := m.signals.SetPhaseDuration(j.id, d); err != nil {
		return entity.NewControlError(j.id, "set_phase_duration", err)
	}
	j.allocated = d
	return nil
}

// switchTo 从当前绿灯切换到目标绿灯
// 说明：正常情况下切到其后的黄灯相位并记录待到达目标，黄灯与全红由信号程序完成；
// 没有黄灯相位时直接切到目标绿灯并使用保守时长
func (m *Manager) switchTo(j *Junction, cur, best int, tick int32) error {
	var tail error
	if warning, ok := m.topo.TransitionWarningAfter(j.id, cur); ok {
		if err := m.signals.SetActivePhase(j.id, warning); err != nil {
			return entity.NewControlError(j.id, "set_phase", err)
		}
		j.pendingTarget, j.hasPending = best, true
		j.lastPhase = warning
	} else {
		log.Warnf("intersection %s: no warning phase after green %d, switching directly to %d", j.id, cur, best)
		if err := m.signals.SetActivePhase(j.id, best); err != nil {
			return entity.NewControlError(j.id, "set_phase", err)
		}
		j.reset(tick, m.c.DefaultGreen)
		j.lastPhase = best
		d := m.duration(m.c.FallbackScore)
		if err := m.signals.SetPhaseDuration(j.id, d); err != nil {
			tail = entity.NewControlError(j.id, "set_phase_duration", err)
		} else {
			j.allocated = d
		}
	}
	j.switchCount++
	metrics.RecordSwitch(j.id)
	j.skipCount[best] = 0
	for _, p := range j.greens {
		if p != best && p != cur {
			j.skipCount[p]++
		}
	}
	log.Debugf("intersection %s: switch %d -> %d (tick %d)", j.id, cur, best, tick)
	return tail
}
