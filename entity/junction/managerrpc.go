package junction

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"

	"connectrpc.com/connect"
	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	mapv2connect "git.fiblab.net/sim/protos/v2/go/city/map/v2/mapv2connect"
	"git.fiblab.net/sim/syncer/v3"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity"
)

// Register 将信控查询与开关接口注册到sidecar
func (m *Manager) Register(sidecar *syncer.Sidecar) {
	sidecar.Register(
		mapv2connect.TrafficLightServiceName,
		func(opts ...connect.HandlerOption) (pattern string, handler http.Handler) {
			return mapv2connect.NewTrafficLightServiceHandler(m, opts...)
		},
	)
}

func (m *Manager) lookup(junctionID int32) (*Junction, error) {
	j, ok := m.data[strconv.Itoa(int(junctionID))]
	if !ok {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("junction id does not exist"))
	}
	return j, nil
}

// GetTrafficLight RPC接口：获取路口信号程序、当前相位与当前绿灯剩余时长
// 说明：路口ID为十进制整数形式；非绿灯相位的剩余时长为0
func (m *Manager) GetTrafficLight(
	ctx context.Context, in *connect.Request[mapv2.GetTrafficLightRequest],
) (*connect.Response[mapv2.GetTrafficLightResponse], error) {
	req := in.Msg
	j, err := m.lookup(req.JunctionId)
	if err != nil {
		return nil, err
	}
	phases := m.topo.Phases(j.id)
	tl := &mapv2.TrafficLight{
		JunctionId: req.JunctionId,
		Phases: lo.Map(phases, func(p entity.Phase, _ int) *mapv2.Phase {
			return &mapv2.Phase{Duration: p.Duration, States: lightStates(p.State)}
		}),
	}
	remaining := 0.
	if typ, ok := m.topo.PhaseType(j.id, j.lastPhase); ok && typ == entity.PhaseGreen {
		elapsed := float64(m.ctx.Clock().Step-j.phaseStartTick) * m.dt
		remaining = math.Max(j.allocated-elapsed, 0)
	}
	return connect.NewResponse(&mapv2.GetTrafficLightResponse{
		TrafficLight:  tl,
		PhaseIndex:    int32(j.lastPhase),
		TimeRemaining: remaining,
	}), nil
}

// SetTrafficLightStatus RPC接口：开关路口的自适应控制
// 说明：false时决策引擎不再下发指令，信号灯按自身程序运行；true时以刚进入绿灯的状态重新接管
func (m *Manager) SetTrafficLightStatus(
	ctx context.Context, in *connect.Request[mapv2.SetTrafficLightStatusRequest],
) (*connect.Response[mapv2.SetTrafficLightStatusResponse], error) {
	req := in.Msg
	j, err := m.lookup(req.JunctionId)
	if err != nil {
		return nil, err
	}
	if !j.controllable {
		return nil, connect.NewError(connect.CodeFailedPrecondition, errors.New("junction has no green phase"))
	}
	if req.Ok && j.disabled {
		j.reset(m.ctx.Clock().Step, m.c.DefaultGreen)
		j.lastPhase = -1
	}
	j.disabled = !req.Ok
	log.Infof("intersection %s: adaptive control enabled=%v", j.id, req.Ok)
	return connect.NewResponse(&mapv2.SetTrafficLightStatusResponse{}), nil
}

func lightStates(state string) []mapv2.LightState {
	res := make([]mapv2.LightState, len(state))
	for i := range len(state) {
		switch state[i] {
		case 'G', 'g':
			res[i] = mapv2.LightState_LIGHT_STATE_GREEN
		case 'y', 'Y':
			res[i] = mapv2.LightState_LIGHT_STATE_YELLOW
		default:
			res[i] = mapv2.LightState_LIGHT_STATE_RED
		}
	}
	return res
}
