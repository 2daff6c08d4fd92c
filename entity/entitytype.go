package entity

import (
	"errors"
	"fmt"
)

// PhaseType 相位类型，拓扑加载时确定一次
type PhaseType int

const (
	PhaseGreen     PhaseType = iota // 绿灯相位，可被自适应控制
	PhaseWarning                    // 黄灯过渡相位
	PhaseClearance                  // 全红清空过渡相位
)

func (t PhaseType) String() string {
	switch t {
	case PhaseGreen:
		return "green"
	case PhaseWarning:
		return "warning"
	case PhaseClearance:
		return "clearance"
	default:
		return fmt.Sprintf("PhaseType(%d)", int(t))
	}
}

// IsTransition 是否为过渡相位（黄灯或全红）
func (t PhaseType) IsTransition() bool {
	return t != PhaseGreen
}

// Phase 信号程序中的一个相位
type Phase struct {
	Index    int       // 相位序号
	State    string    // 信号状态字符串，每个字符对应一个信号连接
	Duration float64   // 程序中的默认时长（秒）
	Type     PhaseType // 相位类型
	Lanes    []string  // 绿灯放行的受控车道（仅绿灯相位）
}

// ProgramPhase 仿真引擎报告的信号程序相位定义
type ProgramPhase struct {
	State    string  `msgpack:"state"`
	Duration float64 `msgpack:"duration"`
}

// ProgramLogic 仿真引擎报告的信号程序
type ProgramLogic struct {
	ProgramID string         `msgpack:"program_id"`
	Phases    []ProgramPhase `msgpack:"phases"`
}

// ControlledLink 路口的一个信号连接
// 说明：StopLine为该连接进口车道所在的路段标识（停车线标识），同一停车线的连接属于同一进口道
type ControlledLink struct {
	Index    int    `msgpack:"index"`
	Lane     string `msgpack:"lane"`
	StopLine string `msgpack:"stop_line"`
}

// UpcomingSignal 车辆前方将经过的信号连接
type UpcomingSignal struct {
	Intersection string  `msgpack:"tls"`
	LinkIndex    int     `msgpack:"link_index"`
	Distance     float64 `msgpack:"distance"`
	State        string  `msgpack:"state"`
}

// LaneStats 单条车道的原始统计量（当前仿真步）
type LaneStats struct {
	VehicleCount int     `msgpack:"vehicles"`
	HaltingCount int     `msgpack:"halting"`
	WaitingTime  float64 `msgpack:"waiting"`
	MeanSpeed    float64 `msgpack:"speed"`
}

// DemandVector 一个绿灯相位的交通需求（每步重新计算）
type DemandVector struct {
	Count     int     // 车辆数
	Queue     int     // 排队（停止）车辆数
	Wait      float64 // 累计等待时间（秒）
	Density   float64 // 车辆密度（辆/米）
	MeanSpeed float64 // 有车车道的平均速度

	DensityNorm float64 // 归一化密度 [0,1]
	WaitNorm    float64 // 归一化等待时间 [0,1]
	QueueNorm   float64 // 归一化排队长度 [0,1]
}

// NetworkStatus 路网整体状态
type NetworkStatus struct {
	Time        float64 `msgpack:"time"`         // 仿真时间（秒）
	Vehicles    int     `msgpack:"vehicles"`     // 路网中的车辆数
	MinExpected int     `msgpack:"min_expected"` // 路网中及待发车的车辆数
	MeanWait    float64 `msgpack:"mean_wait"`
	MeanSpeed   float64 `msgpack:"mean_speed"`
}

// Color 车辆标记颜色（RGBA）
type Color [4]uint8

// DecisionStats 自适应信控统计
type DecisionStats struct {
	SwitchCount     map[string]int             // 路口->切换次数
	TimeServed      map[string]map[int]float64 // 路口->绿灯相位->放行时长（秒）
	SuppressedCount int                        // 当前被优先控制接管的路口数
}

// PreemptionStats 紧急优先统计
type PreemptionStats struct {
	TotalPreemptions            int
	TotalRestorations           int
	RestoreFailures             int
	UniqueIntersectionsAffected int
	ActiveOverrides             int
}

var (
	ErrUnknownIntersection = errors.New("unknown intersection")
	ErrUnknownPhase        = errors.New("phase not in loaded topology")
)

// ControlError 单个路口在一步内的控制失败
// 说明：只影响该路口当前步，由控制循环记录后继续
type ControlError struct {
	Intersection string
	Op           string
	Err          error
}

func (e *ControlError) Error() string {
	return fmt.Sprintf("intersection %s: %s: %v", e.Intersection, e.Op, e.Err)
}

func (e *ControlError) Unwrap() error {
	return e.Err
}

// NewControlError 构造ControlError，err为nil时返回nil
func NewControlError(id, op string, err error) error {
	if err == nil {
		return nil
	}
	return &ControlError{Intersection: id, Op: op, Err: err}
}
