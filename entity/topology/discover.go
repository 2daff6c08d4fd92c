package topology

import (
	"errors"

	"github.com/tsinghua-fib-lab/agentsociety-signal/entity"
)

var ErrNoTrafficLights = errors.New("no traffic lights found in the network")

// Source 在线发现拓扑所需的仿真查询接口
type Source interface {
	TrafficLights() ([]string, error)
	ProgramLogics(id string) ([]entity.ProgramLogic, error)
	ControlledLanes(id string) ([]string, error) // 每个信号连接一项，不去重
	LaneLength(lane string) (float64, error)
}

// Discover 通过仿真查询构建拓扑
// 功能：遍历所有信号灯，读取第一个信号程序与受控车道，构建拓扑
// 参数：src-仿真查询接口，defaultLaneLength-车道长度查询失败时的默认值
// 返回：拓扑；没有任何信号灯时返回ErrNoTrafficLights
// 说明：单个路口查询失败或没有相位时跳过并记为无效，不影响其他路口
func Discover(src Source, defaultLaneLength float64) (*Topology, error) {
	ids, err := src.TrafficLights()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, ErrNoTrafficLights
	}
	log.Infof("discovered %d traffic light(s)", len(ids))
	t := New(defaultLaneLength)
	for _, id := range ids {
		links, err := src.ControlledLanes(id)
		if err != nil {
			log.Warnf("skip intersection %s: controlled lanes: %v", id, err)
			t.invalid = append(t.invalid, id)
			continue
		}
		for _, lane := range links {
			if _, ok := t.laneLength[lane]; ok || lane == "" {
				continue
			}
			if l, err := src.LaneLength(lane); err == nil {
				t.SetLaneLength(lane, l)
			} else {
				t.SetLaneLength(lane, defaultLaneLength)
			}
		}
		logics, err := src.ProgramLogics(id)
		if err != nil {
			log.Warnf("skip intersection %s: program logics: %v", id, err)
			t.invalid = append(t.invalid, id)
			continue
		}
		var logic entity.ProgramLogic
		if len(logics) > 0 {
			logic = logics[0]
		}
		if err := t.Add(id, logic, links); err != nil {
			log.Warnf("skip %v", err)
			continue
		}
		greens := t.GreenPhases(id)
		switch {
		case len(greens) == 0:
			log.Warnf("intersection %s has no green phase, excluded from adaptive control", id)
		case len(greens) == 1:
			log.Infof("intersection %s: %d phases, single green (duration only)", id, len(logic.Phases))
		default:
			log.Infof("intersection %s: %d phases, greens=%v", id, len(logic.Phases), greens)
		}
	}
	log.Infof("%d/%d traffic light(s) mapped", len(t.ids), len(ids))
	if len(t.invalid) > 0 {
		log.Warnf("skipped traffic lights: %v", t.invalid)
	}
	return t, nil
}
