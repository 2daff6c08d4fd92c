package bridge

import (
	"strings"

	"github.com/tsinghua-fib-lab/agentsociety-signal/entity"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity/topology"
)

// StopLineOf 车道ID（edge_index）对应的停车线标识，即最后一个'_'之前的路段部分
func StopLineOf(lane string) string {
	if i := strings.LastIndexByte(lane, '_'); i >= 0 {
		return lane[:i]
	}
	return lane
}

func tls(id string) map[string]any {
	return map[string]any{"tls_id": id}
}

func veh(id string) map[string]any {
	return map[string]any{"veh_id": id}
}

// 仿真控制

func (cl *Client) Step() error {
	return cl.Call("step", nil, nil)
}

func (cl *Client) Status() (entity.NetworkStatus, error) {
	var res entity.NetworkStatus
	err := cl.Call("status", nil, &res)
	return res, err
}

func (cl *Client) SimTime() (float64, error) {
	var res float64
	err := cl.Call("sim_time", nil, &res)
	return res, err
}

// 拓扑

func (cl *Client) TrafficLights() ([]string, error) {
	var res []string
	err := cl.Call("trafficlights", nil, &res)
	return res, err
}

func (cl *Client) ProgramLogics(id string) ([]entity.ProgramLogic, error) {
	var res []entity.ProgramLogic
	err := cl.Call("program_logics", tls(id), &res)
	return res, err
}

func (cl *Client) ControlledLanes(id string) ([]string, error) {
	var res []string
	err := cl.Call("controlled_lanes", tls(id), &res)
	return res, err
}

// ControlledLinks 受控信号连接，桥接进程未给出停车线标识时由车道ID推出
func (cl *Client) ControlledLinks(id string) ([]entity.ControlledLink, error) {
	var res []entity.ControlledLink
	if err := cl.Call("controlled_links", tls(id), &res); err != nil {
		return nil, err
	}
	for i := range res {
		if res[i].StopLine == "" {
			res[i].StopLine = StopLineOf(res[i].Lane)
		}
	}
	return res, nil
}

func (cl *Client) LaneLength(lane string) (float64, error) {
	var res float64
	err := cl.Call("lane_length", map[string]any{"lane": lane}, &res)
	return res, err
}

// 遥测

func (cl *Client) LaneStats(lanes []string) (map[string]entity.LaneStats, error) {
	res := make(map[string]entity.LaneStats)
	if len(lanes) == 0 {
		return res, nil
	}
	err := cl.Call("lane_stats", map[string]any{"lanes": lanes}, &res)
	return res, err
}

func (cl *Client) ActiveVehicles() ([]string, error) {
	var res []string
	err := cl.Call("vehicles", nil, &res)
	return res, err
}

func (cl *Client) VehicleClass(id string) (string, error) {
	var res string
	err := cl.Call("vehicle_class", veh(id), &res)
	return res, err
}

func (cl *Client) UpcomingSignals(id string) ([]entity.UpcomingSignal, error) {
	var res []entity.UpcomingSignal
	err := cl.Call("next_tls", veh(id), &res)
	return res, err
}

// 信号控制

func (cl *Client) ActivePhase(id string) (int, error) {
	var res int
	err := cl.Call("get_phase", tls(id), &res)
	return res, err
}

func (cl *Client) SetActivePhase(id string, index int) error {
	p := tls(id)
	p["index"] = index
	return cl.Call("set_phase", p, nil)
}

func (cl *Client) SetPhaseDuration(id string, seconds float64) error {
	p := tls(id)
	p["duration"] = seconds
	return cl.Call("set_phase_duration", p, nil)
}

func (cl *Client) SignalState(id string) (string, error) {
	var res string
	err := cl.Call("get_state", tls(id), &res)
	return res, err
}

func (cl *Client) SetSignalState(id string, state string) error {
	p := tls(id)
	p["state"] = state
	return cl.Call("set_state", p, nil)
}

func (cl *Client) ActiveProgram(id string) (string, error) {
	var res string
	err := cl.Call("get_program", tls(id), &res)
	return res, err
}

func (cl *Client) SetActiveProgram(id string, program string) error {
	p := tls(id)
	p["program"] = program
	return cl.Call("set_program", p, nil)
}

// 车辆控制

func (cl *Client) SetSpeedMode(id string, mode int) error {
	p := veh(id)
	p["mode"] = mode
	return cl.Call("set_speed_mode", p, nil)
}

func (cl *Client) SetColor(id string, color entity.Color) error {
	p := veh(id)
	p["color"] = []int{int(color[0]), int(color[1]), int(color[2]), int(color[3])}
	return cl.Call("set_color", p, nil)
}

var (
	_ entity.ISimulation = (*Client)(nil)
	_ topology.Source    = (*Client)(nil)
)
