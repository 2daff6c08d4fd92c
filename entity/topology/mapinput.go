package topology

import (
	"strconv"
	"strings"

	"git.fiblab.net/general/common/v2/geometry"
	geov2 "git.fiblab.net/sim/protos/v2/go/city/geo/v2"
	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity"
)

// 地图中固定信号程序的程序ID
const MapProgramID = "0"

// FromMap 根据agentsociety地图构建拓扑
// 功能：将地图中带固定信号程序的路口转换为拓扑
// 参数：m-地图，defaultLaneLength-缺少几何信息时的车道长度
// 返回：拓扑
// 算法说明：
// 1. 路口内第i条车道即第i个信号连接，其受控车道为该车道的第一个前驱车道
// 2. 固定程序中每个相位的灯色序列转换为状态字符串（绿G、黄y、其余r）
// 3. 车道长度取中心线折线长度
// 说明：ID统一转换为十进制字符串，与仿真侧保持一致
func FromMap(m *mapv2.Map, defaultLaneLength float64) (*Topology, error) {
	t := New(defaultLaneLength)
	lanes := lo.SliceToMap(m.Lanes, func(l *mapv2.Lane) (int32, *mapv2.Lane) {
		return l.Id, l
	})
	for _, l := range m.Lanes {
		if l.CenterLine == nil || len(l.CenterLine.Nodes) < 2 {
			continue
		}
		points := lo.Map(l.CenterLine.Nodes, func(node *geov2.XYPosition, _ int) geometry.Point {
			return geometry.NewPointFromPb(node)
		})
		lengths := geometry.GetPolylineLengths2D(points)
		t.SetLaneLength(laneKey(l.Id), lengths[len(lengths)-1])
	}
	for _, j := range m.Junctions {
		if j.FixedProgram == nil || len(j.FixedProgram.Phases) == 0 {
			continue
		}
		links := lo.Map(j.LaneIds, func(id int32, _ int) string {
			lane, ok := lanes[id]
			if !ok || len(lane.Predecessors) == 0 {
				return ""
			}
			return laneKey(lane.Predecessors[0].Id)
		})
		logic := entity.ProgramLogic{
			ProgramID: MapProgramID,
			Phases: lo.Map(j.FixedProgram.Phases, func(p *mapv2.Phase, _ int) entity.ProgramPhase {
				return entity.ProgramPhase{State: stateString(p.States), Duration: p.Duration}
			}),
		}
		if err := t.Add(strconv.Itoa(int(j.Id)), logic, links); err != nil {
			log.Warnf("skip junction %d: %v", j.Id, err)
		}
	}
	log.Infof("%d signalized junction(s) loaded from map", len(t.ids))
	return t, nil
}

func laneKey(id int32) string {
	return strconv.Itoa(int(id))
}

func stateString(states []mapv2.LightState) string {
	var b strings.Builder
	for _, s := range states {
		switch s {
		case mapv2.LightState_LIGHT_STATE_GREEN:
			b.WriteByte('G')
		case mapv2.LightState_LIGHT_STATE_YELLOW:
			b.WriteByte('y')
		default:
			b.WriteByte('r')
		}
	}
	return b.String()
}
