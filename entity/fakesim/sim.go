// 内存中的仿真引擎，供各模块测试使用
// 信号程序语义与SUMO一致：直接写入状态字符串后，信号灯运行一个匿名的单相位程序（online），
// 此时只接受相位0，必须先恢复原程序ID才能选择其他相位
package fakesim

import (
	"errors"
	"fmt"
	"sort"

	"github.com/tsinghua-fib-lab/agentsociety-signal/entity"
)

const OnlineProgram = "online"

var ErrUnknown = errors.New("unknown object")

// Light 一个信号灯
type Light struct {
	Programs  map[string][]entity.ProgramPhase
	Program   string
	Phase     int
	Remaining float64
	Links     []entity.ControlledLink

	online string // 匿名程序的状态字符串，为空表示运行正常程序
}

// Vehicle 一辆车
type Vehicle struct {
	Class     string
	Upcoming  []entity.UpcomingSignal
	SpeedMode int
	Color     *entity.Color
}

// Call 一次写操作记录
type Call struct {
	Op  string
	ID  string
	Arg any
}

// Sim 内存仿真
type Sim struct {
	DT          float64
	Time        float64
	Lights      map[string]*Light
	Vehicles    map[string]*Vehicle
	Lanes       map[string]entity.LaneStats
	LaneLengths map[string]float64
	Pending     int // 待发车辆数
	Calls       []Call
	Closed      bool

	fail map[string]error
}

func New(dt float64) *Sim {
	return &Sim{
		DT:          dt,
		Lights:      make(map[string]*Light),
		Vehicles:    make(map[string]*Vehicle),
		Lanes:       make(map[string]entity.LaneStats),
		LaneLengths: make(map[string]float64),
		Calls:       make([]Call, 0),
		fail:        make(map[string]error),
	}
}

// AddLight 加入信号灯，并以program为当前程序、从相位0开始。
// lanes为每个信号连接的进口车道，停车线标识取车道ID中最后一个'_'之前的部分
func (s *Sim) AddLight(id, program string, states []string, durations []float64, lanes []string) *Light {
	l := &Light{
		Programs: make(map[string][]entity.ProgramPhase),
		Program:  program,
	}
	for i, lane := range lanes {
		l.Links = append(l.Links, entity.ControlledLink{Index: i, Lane: lane, StopLine: stopLine(lane)})
	}
	s.Lights[id] = l
	s.AddProgram(id, program, states, durations)
	l.Remaining = l.Programs[program][0].Duration
	return l
}

// AddProgram 为信号灯加入一个信号程序
func (s *Sim) AddProgram(id, program string, states []string, durations []float64) {
	phases := make([]entity.ProgramPhase, len(states))
	for i, state := range states {
		phases[i] = entity.ProgramPhase{State: state, Duration: durations[i%len(durations)]}
	}
	s.Lights[id].Programs[program] = phases
}

// SetVehicle 加入或更新车辆
func (s *Sim) SetVehicle(id, class string, upcoming ...entity.UpcomingSignal) {
	if v, ok := s.Vehicles[id]; ok {
		v.Class = class
		v.Upcoming = upcoming
		return
	}
	s.Vehicles[id] = &Vehicle{Class: class, Upcoming: upcoming, SpeedMode: -1}
}

func (s *Sim) RemoveVehicle(id string) {
	delete(s.Vehicles, id)
}

// FailOn 注入故障，id为空表示对所有对象生效
func (s *Sim) FailOn(op, id string, err error) {
	s.fail[op+"/"+id] = err
}

func (s *Sim) ClearFailures() {
	s.fail = make(map[string]error)
}

// Writes 某个路口的写操作记录
func (s *Sim) Writes(id string) []Call {
	res := make([]Call, 0)
	for _, c := range s.Calls {
		if c.ID == id {
			res = append(res, c)
		}
	}
	return res
}

func (s *Sim) ResetCalls() {
	s.Calls = s.Calls[:0]
}

func (s *Sim) check(op, id string) error {
	if err, ok := s.fail[op+"/"+id]; ok {
		return err
	}
	if err, ok := s.fail[op+"/"]; ok {
		return err
	}
	return nil
}

func (s *Sim) light(op, id string) (*Light, error) {
	if err := s.check(op, id); err != nil {
		return nil, err
	}
	l, ok := s.Lights[id]
	if !ok {
		return nil, fmt.Errorf("%w: traffic light %s", ErrUnknown, id)
	}
	return l, nil
}

func (s *Sim) record(op, id string, arg any) {
	s.Calls = append(s.Calls, Call{Op: op, ID: id, Arg: arg})
}

func (l *Light) phases() []entity.ProgramPhase {
	return l.Programs[l.Program]
}

// Step 推进一步：时间+DT，正常程序的相位计时递减，到时进入下一相位
func (s *Sim) Step() error {
	if err := s.check("Step", ""); err != nil {
		return err
	}
	s.Time += s.DT
	for _, l := range s.Lights {
		if l.online != "" {
			continue
		}
		l.Remaining -= s.DT
		phases := l.phases()
		for l.Remaining <= 0 {
			l.Phase = (l.Phase + 1) % len(phases)
			l.Remaining += phases[l.Phase].Duration
		}
	}
	return nil
}

func (s *Sim) Status() (entity.NetworkStatus, error) {
	if err := s.check("Status", ""); err != nil {
		return entity.NetworkStatus{}, err
	}
	return entity.NetworkStatus{
		Time:        s.Time,
		Vehicles:    len(s.Vehicles),
		MinExpected: len(s.Vehicles) + s.Pending,
	}, nil
}

func (s *Sim) Close() error {
	s.Closed = true
	return nil
}

func (s *Sim) SimTime() (float64, error) {
	if err := s.check("SimTime", ""); err != nil {
		return 0, err
	}
	return s.Time, nil
}

func (s *Sim) ActivePhase(id string) (int, error) {
	l, err := s.light("ActivePhase", id)
	if err != nil {
		return 0, err
	}
	if l.online != "" {
		return 0, nil
	}
	return l.Phase, nil
}

func (s *Sim) SetActivePhase(id string, index int) error {
	l, err := s.light("SetActivePhase", id)
	if err != nil {
		return err
	}
	s.record("SetActivePhase", id, index)
	if l.online != "" {
		if index != 0 {
			return fmt.Errorf("phase index %d is not in the allowed range [0,0]", index)
		}
		return nil
	}
	phases := l.phases()
	if index < 0 || index >= len(phases) {
		return fmt.Errorf("phase index %d is not in the allowed range [0,%d]", index, len(phases)-1)
	}
	l.Phase = index
	l.Remaining = phases[index].Duration
	return nil
}

func (s *Sim) SetPhaseDuration(id string, seconds float64) error {
	l, err := s.light("SetPhaseDuration", id)
	if err != nil {
		return err
	}
	s.record("SetPhaseDuration", id, seconds)
	l.Remaining = seconds
	return nil
}

func (s *Sim) SignalState(id string) (string, error) {
	l, err := s.light("SignalState", id)
	if err != nil {
		return "", err
	}
	if l.online != "" {
		return l.online, nil
	}
	return l.phases()[l.Phase].State, nil
}

func (s *Sim) SetSignalState(id string, state string) error {
	l, err := s.light("SetSignalState", id)
	if err != nil {
		return err
	}
	s.record("SetSignalState", id, state)
	l.online = state
	return nil
}

func (s *Sim) ActiveProgram(id string) (string, error) {
	l, err := s.light("ActiveProgram", id)
	if err != nil {
		return "", err
	}
	if l.online != "" {
		return OnlineProgram, nil
	}
	return l.Program, nil
}

func (s *Sim) SetActiveProgram(id string, program string) error {
	l, err := s.light("SetActiveProgram", id)
	if err != nil {
		return err
	}
	s.record("SetActiveProgram", id, program)
	phases, ok := l.Programs[program]
	if !ok {
		return fmt.Errorf("%w: program %s of traffic light %s", ErrUnknown, program, id)
	}
	l.online = ""
	l.Program = program
	l.Phase = 0
	l.Remaining = phases[0].Duration
	return nil
}

func (s *Sim) ControlledLinks(id string) ([]entity.ControlledLink, error) {
	l, err := s.light("ControlledLinks", id)
	if err != nil {
		return nil, err
	}
	return l.Links, nil
}

// Online 信号灯是否运行匿名程序
func (s *Sim) Online(id string) bool {
	return s.Lights[id].online != ""
}

func (s *Sim) TrafficLights() ([]string, error) {
	ids := make([]string, 0, len(s.Lights))
	for id := range s.Lights {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// ProgramLogics 当前程序排在第一位
func (s *Sim) ProgramLogics(id string) ([]entity.ProgramLogic, error) {
	l, err := s.light("ProgramLogics", id)
	if err != nil {
		return nil, err
	}
	res := []entity.ProgramLogic{{ProgramID: l.Program, Phases: l.Programs[l.Program]}}
	for p, phases := range l.Programs {
		if p != l.Program {
			res = append(res, entity.ProgramLogic{ProgramID: p, Phases: phases})
		}
	}
	return res, nil
}

func (s *Sim) ControlledLanes(id string) ([]string, error) {
	l, err := s.light("ControlledLanes", id)
	if err != nil {
		return nil, err
	}
	lanes := make([]string, len(l.Links))
	for i, link := range l.Links {
		lanes[i] = link.Lane
	}
	return lanes, nil
}

func (s *Sim) LaneLength(lane string) (float64, error) {
	if l, ok := s.LaneLengths[lane]; ok {
		return l, nil
	}
	return 0, fmt.Errorf("%w: lane %s", ErrUnknown, lane)
}

func (s *Sim) LaneStats(lanes []string) (map[string]entity.LaneStats, error) {
	if err := s.check("LaneStats", ""); err != nil {
		return nil, err
	}
	res := make(map[string]entity.LaneStats)
	for _, lane := range lanes {
		if st, ok := s.Lanes[lane]; ok {
			res[lane] = st
		}
	}
	return res, nil
}

func (s *Sim) ActiveVehicles() ([]string, error) {
	if err := s.check("ActiveVehicles", ""); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(s.Vehicles))
	for id := range s.Vehicles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Sim) vehicle(op, id string) (*Vehicle, error) {
	if err := s.check(op, id); err != nil {
		return nil, err
	}
	v, ok := s.Vehicles[id]
	if !ok {
		return nil, fmt.Errorf("%w: vehicle %s", ErrUnknown, id)
	}
	return v, nil
}

func (s *Sim) VehicleClass(id string) (string, error) {
	v, err := s.vehicle("VehicleClass", id)
	if err != nil {
		return "", err
	}
	return v.Class, nil
}

func (s *Sim) UpcomingSignals(id string) ([]entity.UpcomingSignal, error) {
	v, err := s.vehicle("UpcomingSignals", id)
	if err != nil {
		return nil, err
	}
	return v.Upcoming, nil
}

func (s *Sim) SetSpeedMode(id string, mode int) error {
	v, err := s.vehicle("SetSpeedMode", id)
	if err != nil {
		return err
	}
	s.record("SetSpeedMode", id, mode)
	v.SpeedMode = mode
	return nil
}

func (s *Sim) SetColor(id string, color entity.Color) error {
	v, err := s.vehicle("SetColor", id)
	if err != nil {
		return err
	}
	s.record("SetColor", id, color)
	v.Color = &color
	return nil
}

func stopLine(lane string) string {
	for i := len(lane) - 1; i >= 0; i-- {
		if lane[i] == '_' {
			return lane[:i]
		}
	}
	return lane
}

var _ entity.ISimulation = (*Sim)(nil)
