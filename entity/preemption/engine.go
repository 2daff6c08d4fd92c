package preemption

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity"
	"github.com/tsinghua-fib-lab/agentsociety-signal/metrics"
	"github.com/tsinghua-fib-lab/agentsociety-signal/utils/config"
)

// Engine 紧急车辆优先引擎
// 功能：检测紧急车辆，为其前方检测范围内的路口写入进口道全绿的信号状态，
// 车辆驶离后按“先恢复信号程序、再恢复相位”的顺序恢复路口，并通知决策引擎重新接管
type Engine struct {
	c          config.Preemption
	color      entity.Color
	topo       entity.ITopology
	signals    entity.ISignalControl
	vehicles   entity.IVehicleTelemetry
	suppressor entity.ISuppressor

	ids     map[string]struct{} // 按车辆ID识别
	classes map[string]struct{} // 按车辆类型识别

	seen    map[string]struct{}            // 已检测并完成设置的紧急车辆
	prev    map[string]map[string]approach // 车辆->上一步检测范围内的路口
	records map[string]*Record             // 路口->接管快照
	warned  map[string]struct{}            // 已告警的未知路口

	events   []Event
	affected map[string]struct{}

	preemptions  int
	restorations int
	failures     int
}

// New 创建紧急优先引擎
// 参数：c-配置，topo-拓扑，signals-信号控制接口，vehicles-车辆遥测接口，suppressor-决策引擎交接接口
func New(
	c config.Preemption,
	topo entity.ITopology,
	signals entity.ISignalControl,
	vehicles entity.IVehicleTelemetry,
	suppressor entity.ISuppressor,
) *Engine {
	e := &Engine{
		c:          c,
		topo:       topo,
		signals:    signals,
		vehicles:   vehicles,
		suppressor: suppressor,
		ids:        lo.SliceToMap(c.VehicleIDs, func(id string) (string, struct{}) { return id, struct{}{} }),
		classes:    lo.SliceToMap(c.VehicleClasses, func(id string) (string, struct{}) { return id, struct{}{} }),
		seen:       make(map[string]struct{}),
		prev:       make(map[string]map[string]approach),
		records:    make(map[string]*Record),
		warned:     make(map[string]struct{}),
		events:     make([]Event, 0),
		affected:   make(map[string]struct{}),
	}
	for i := 0; i < len(c.Color) && i < len(e.color); i++ {
		e.color[i] = uint8(c.Color[i])
	}
	log.Infof("vehicle ids %v, classes %v, detection range %.1fm, speed mode %d", c.VehicleIDs, c.VehicleClasses, c.DetectionRange, c.SpeedMode)
	return e
}

// candidate 一辆车对一个路口的接管请求
type candidate struct {
	vehicle string
	approach
}

// Step 执行一步紧急优先
// 参数：tick-当前步数
// 返回：本步的控制错误
// 算法说明：
// 1. 识别紧急车辆，首次出现的车辆只做速度模式与颜色设置，下一步才处理
// 2. 按路口汇总各车辆检测范围内的确认连接与最小距离
// 3. 未接管的路口保存快照并写入接管状态，已接管的路口重新写入
// 4. 已接管但不再处于任何车辆检测范围内的路口恢复
func (e *Engine) Step(tick int32) []error {
	if !e.c.Enabled {
		return nil
	}
	errs := make([]error, 0)
	active, err := e.vehicles.ActiveVehicles()
	if err != nil {
		// 无法判断车辆是否仍在路网中，本步不做任何恢复
		return append(errs, fmt.Errorf("list vehicles: %w", err))
	}
	ready := e.detect(active)

	inRange := make(map[string][]candidate)
	for _, v := range ready {
		groups, err := e.upcoming(v)
		if err != nil {
			log.Warnf("vehicle %s: upcoming signals unavailable, reusing last tick: %v", v, err)
			groups = e.prev[v]
		}
		e.prev[v] = groups
		for id, a := range groups {
			inRange[id] = append(inRange[id], candidate{vehicle: v, approach: a})
		}
	}

	ids := lo.Keys(inRange)
	sort.Strings(ids)
	for _, id := range ids {
		if !e.topo.Has(id) {
			if _, ok := e.warned[id]; !ok {
				log.Warnf("intersection %s is not in the loaded topology, never overridden", id)
				e.warned[id] = struct{}{}
			}
			continue
		}
		var err error
		if _, ok := e.records[id]; ok {
			err = e.maintain(id, inRange[id])
		} else {
			err = e.preempt(id, inRange[id], tick)
		}
		if err != nil {
			log.Warnf("%v", err)
			errs = append(errs, err)
		}
	}

	for _, id := range e.Overridden() {
		if _, ok := inRange[id]; ok {
			continue
		}
		if err := e.restore(id, tick); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// detect 识别紧急车辆
// 返回：本步需要处理的紧急车辆（有序，不含首次出现的车辆）
func (e *Engine) detect(active []string) []string {
	ready := make([]string, 0)
	present := make(map[string]struct{})
	for _, v := range active {
		if !e.isPriority(v) {
			continue
		}
		present[v] = struct{}{}
		if _, ok := e.seen[v]; ok {
			ready = append(ready, v)
			continue
		}
		e.seen[v] = struct{}{}
		e.applyProfile(v)
	}
	for v := range e.seen {
		if _, ok := present[v]; !ok {
			log.Infof("priority vehicle %s left the network", v)
			delete(e.seen, v)
			delete(e.prev, v)
		}
	}
	sort.Strings(ready)
	return ready
}

func (e *Engine) isPriority(v string) bool {
	if _, ok := e.ids[v]; ok {
		return true
	}
	if len(e.classes) == 0 {
		return false
	}
	class, err := e.vehicles.VehicleClass(v)
	if err != nil {
		log.Debugf("vehicle %s: class unavailable: %v", v, err)
		return false
	}
	_, ok := e.classes[class]
	return ok
}

// applyProfile 首次检测时设置速度模式（取消最小跟车间距、保留碰撞检查）与标记颜色
func (e *Engine) applyProfile(v string) {
	if err := e.vehicles.SetSpeedMode(v, e.c.SpeedMode); err != nil {
		log.Warnf("vehicle %s: set speed mode failed: %v", v, err)
	}
	if err := e.vehicles.SetColor(v, e.color); err != nil {
		log.Warnf("vehicle %s: set color failed: %v", v, err)
	}
	log.Infof("priority vehicle %s detected, speed mode %d applied", v, e.c.SpeedMode)
}

// upcoming 车辆前方检测范围内的路口
// 返回：路口->确认连接与最小距离
func (e *Engine) upcoming(v string) (map[string]approach, error) {
	signals, err := e.vehicles.UpcomingSignals(v)
	if err != nil {
		return nil, err
	}
	groups := make(map[string]approach)
	for _, s := range signals {
		if s.Distance < 0 || s.Distance > e.c.DetectionRange {
			continue
		}
		a, ok := groups[s.Intersection]
		if !ok {
			a.distance = s.Distance
		}
		a.links = append(a.links, s.LinkIndex)
		a.distance = min(a.distance, s.Distance)
		groups[s.Intersection] = a
	}
	return groups, nil
}

// preempt 接管路口
// 说明：先保存相位与信号程序ID，再写入状态，任何一步失败都不建立快照
func (e *Engine) preempt(id string, cs []candidate, tick int32) error {
	phase, err := e.signals.ActivePhase(id)
	if err != nil {
		return entity.NewControlError(id, "get_phase", err)
	}
	program, err := e.signals.ActiveProgram(id)
	if err != nil {
		return entity.NewControlError(id, "get_program", err)
	}
	state, err := e.compose(id, cs)
	if err != nil {
		return err
	}
	if err := e.signals.SetSignalState(id, state); err != nil {
		return entity.NewControlError(id, "set_state", err)
	}

	rec := &Record{
		Intersection: id,
		Episode:      uuid.New(),
		SavedPhase:   phase,
		SavedProgram: program,
		Override:     state,
		TickSaved:    tick,
		Vehicle:      cs[0].vehicle,
	}
	e.records[id] = rec
	e.suppressor.MarkSuppressed(id)
	e.preemptions++
	metrics.RecordPreemption()
	e.affected[id] = struct{}{}
	distance := lo.MinBy(cs, func(a, b candidate) bool { return a.distance < b.distance }).distance
	e.events = append(e.events, Event{
		Episode:      rec.Episode,
		Type:         EventPreempted,
		Intersection: id,
		Tick:         tick,
		Distance:     distance,
		State:        state,
		Vehicle:      rec.Vehicle,
	})
	log.Infof("PREEMPTED %s (%s at %.1fm, saved program %s phase %d) state=%s", id, rec.Vehicle, distance, program, phase, state)
	return nil
}

// maintain 重新写入接管状态，否则信号程序会在下一步重新取得控制
// 说明：每步按当前检测范围内的车辆重新计算进口道全绿状态的并集，
// 驶离车辆的进口道随之收回；不改动已保存的快照。重新计算失败时沿用上一步的状态
func (e *Engine) maintain(id string, cs []candidate) error {
	rec := e.records[id]
	state, cerr := e.compose(id, cs)
	if cerr != nil {
		log.Warnf("intersection %s: override not recomputed, reasserting %s: %v", id, rec.Override, cerr)
	} else if state != rec.Override {
		log.Infof("intersection %s: approaches changed, state %s -> %s", id, rec.Override, state)
		rec.Override = state
	}
	if err := e.signals.SetSignalState(id, rec.Override); err != nil {
		return entity.NewControlError(id, "reassert", err)
	}
	return cerr
}

// compose 各车辆进口道全绿状态的并集
func (e *Engine) compose(id string, cs []candidate) (string, error) {
	state := ""
	for _, c := range cs {
		s, err := e.buildOverride(id, c.links)
		if err != nil {
			return "", err
		}
		state = union(state, s)
	}
	return state, nil
}
