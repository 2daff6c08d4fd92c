package config

// InputPath 指定输入数据来源的配置（MongoDB、文件系统）
// 功能：定义数据输入路径的配置结构，支持多种数据源
// 说明：支持MongoDB数据库和文件系统两种数据源，支持缓存机制
type InputPath struct {
	DB        string `yaml:"db"`                   // 数据库名
	Col       string `yaml:"col"`                  // 集合名
	Cache     string `yaml:"cache,omitempty"`      // 缓存文件名，为空则采用默认路径{db}.{col}.pb
	OnlyCache bool   `yaml:"only_cache,omitempty"` // 只从缓存中获取
	File      string `yaml:"file,omitempty"`       // 文件路径（优先级高于MongoDB）
}

func (p InputPath) GetDb() string {
	return p.DB
}

func (p InputPath) GetColl() string {
	return p.Col
}

// GetCachePath 获取缓存文件路径
// 说明：如果未指定缓存路径，使用默认命名规则：{数据库名}.{集合名}.pb
func (p InputPath) GetCachePath() string {
	if p.Cache != "" {
		return p.Cache
	}
	return p.DB + "." + p.Col + ".pb"
}

// Input 路网拓扑输入
// 说明：Map为空时，拓扑通过仿真桥接进程在线发现
type Input struct {
	URI string     `yaml:"uri,omitempty"` // MongoDB连接字符串
	Map *InputPath `yaml:"map,omitempty"` // 地图
}

// Bridge 外部仿真桥接进程的连接配置
type Bridge struct {
	Network      string  `yaml:"network"`       // unix | tcp
	Address      string  `yaml:"address"`       // socket路径或host:port
	DialTimeout  float64 `yaml:"dial_timeout"`  // 建立连接超时（秒）
	CallTimeout  float64 `yaml:"call_timeout"`  // 单次调用超时（秒）
	MaxRetries   int     `yaml:"max_retries"`   // 连接失败后的重试次数
	RetryBackoff float64 `yaml:"retry_backoff"` // 重试基础退避（秒），实际退避带随机抖动
	Seed         uint64  `yaml:"seed,omitempty"`
}

// ControlStep 指定模拟器模拟时间范围和间隔的配置项
type ControlStep struct {
	Start    int32   `yaml:"start"`    // 开始步数
	Total    int32   `yaml:"total"`    // 总步数
	Interval float64 `yaml:"interval"` // 每步的时间间隔
}

// Control 控制循环配置
type Control struct {
	Step            ControlStep `yaml:"step"`
	StopWhenDrained bool        `yaml:"stop_when_drained"` // 路网中没有车辆且无待发车辆时结束
}

// Weights 相位评分权重，三者之和必须为1
type Weights struct {
	Density float64 `yaml:"density"`
	Wait    float64 `yaml:"wait"`
	Queue   float64 `yaml:"queue"`
}

// Signal 自适应信控参数（时间单位：秒）
type Signal struct {
	MinGreen             float64 `yaml:"min_green"`
	MaxGreen             float64 `yaml:"max_green"`
	MinPhaseDuration     float64 `yaml:"min_phase_duration"` // 相位开始后多久才允许做决策
	DefaultGreen         float64 `yaml:"default_green"`
	SwitchThreshold      float64 `yaml:"switch_threshold"` // 最优相位与当前相位评分差的切换阈值
	Weights              Weights `yaml:"weights"`
	FairnessBonusPerSkip float64 `yaml:"fairness_bonus_per_skip"`
	FairnessBonusCap     float64 `yaml:"fairness_bonus_cap"`
	FairnessMaxSkip      int     `yaml:"fairness_max_skip"` // 达到该跳过次数时强制切换
	FallbackScore        float64 `yaml:"fallback_score"`    // 无黄灯相位直接切换时使用的评分
}

// Telemetry 交通需求归一化参数
type Telemetry struct {
	DecayFactor       float64 `yaml:"decay_factor"`        // 历史最大值每步衰减系数
	Floor             float64 `yaml:"floor"`               // 历史最大值下限
	DefaultLaneLength float64 `yaml:"default_lane_length"` // 无法获取车道长度时的默认值（米）
}

// Preemption 紧急车辆优先配置
type Preemption struct {
	Enabled        bool     `yaml:"enabled"`
	VehicleIDs     []string `yaml:"vehicle_ids"`
	VehicleClasses []string `yaml:"vehicle_classes"`
	DetectionRange float64  `yaml:"detection_range"` // 米
	SpeedMode      int      `yaml:"speed_mode"`      // 首次检测时设置的速度模式位掩码
	Color          []int    `yaml:"color"`           // RGBA
	RestoreOnExit  bool     `yaml:"restore_on_exit"`
}

// Config YAML配置文件的根结构
type Config struct {
	Bridge     Bridge     `yaml:"bridge"`
	Input      Input      `yaml:"input,omitempty"`
	Control    Control    `yaml:"control"`
	Signal     Signal     `yaml:"signal"`
	Telemetry  Telemetry  `yaml:"telemetry"`
	Preemption Preemption `yaml:"preemption"`
}
