package entity

// 依赖倒置：各模块只通过以下接口交互

// 信号控制接口（外部仿真引擎）
type ISignalControl interface {
	ActivePhase(id string) (int, error)                  // 当前相位序号
	SetActivePhase(id string, index int) error           // 切换到指定相位
	SetPhaseDuration(id string, seconds float64) error   // 设置当前相位剩余时长
	SignalState(id string) (string, error)               // 当前完整信号状态字符串
	SetSignalState(id string, state string) error        // 直接写入信号状态（绕过信号程序）
	ActiveProgram(id string) (string, error)             // 当前信号程序ID
	SetActiveProgram(id string, program string) error    // 切换信号程序
	ControlledLinks(id string) ([]ControlledLink, error) // 受控信号连接
	SimTime() (float64, error)                           // 当前仿真时间
}

// 车辆遥测接口（外部仿真引擎）
type IVehicleTelemetry interface {
	ActiveVehicles() ([]string, error)
	VehicleClass(id string) (string, error)
	UpcomingSignals(id string) ([]UpcomingSignal, error)
	SetSpeedMode(id string, mode int) error
	SetColor(id string, color Color) error
}

// 车道遥测接口（外部仿真引擎）
type ILaneTelemetry interface {
	// 批量获取车道统计，缺失的车道不出现在结果中
	LaneStats(lanes []string) (map[string]LaneStats, error)
}

// 外部仿真引擎的完整接口
type ISimulation interface {
	ISignalControl
	IVehicleTelemetry
	ILaneTelemetry

	Step() error                    // 推进一步
	Status() (NetworkStatus, error) // 路网状态
	Close() error
}

// entity/topology的依赖倒置
type ITopology interface {
	IDs() []string                                    // 所有路口ID（有序）
	Has(id string) bool                               // 是否为已加载的路口
	Controllable(id string) bool                      // 是否至少有一个绿灯相位
	Phases(id string) []Phase                         // 有序相位列表
	PhaseType(id string, index int) (PhaseType, bool) // 相位类型
	GreenPhases(id string) []int                      // 绿灯相位序号（有序）
	GreenLanes(id string, phase int) []string         // 绿灯相位放行的车道
	TransitionWarningAfter(id string, green int) (int, bool)
	HasMultipleGreenPhases(id string) bool
	LaneLength(lane string) float64
}

// entity/telemetry的依赖倒置
type IDemandSource interface {
	// 路口每个绿灯相位的归一化交通需求
	DemandOf(id string) (map[int]DemandVector, error)
}

// entity/junction对紧急优先模块暴露的交接接口
type ISuppressor interface {
	MarkSuppressed(id string)
	MarkResumed(id string, tick int32)
	CurrentlySuppressed() []string
}
