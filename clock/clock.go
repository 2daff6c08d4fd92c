package clock

import (
	"fmt"

	"git.fiblab.net/sim/protos/v2/go/city/clock/v1/clockv1connect"
	"github.com/tsinghua-fib-lab/agentsociety-signal/utils/config"
)

// Clock 控制器侧的仿真时钟
// 功能：记录控制循环的步数，并镜像外部仿真引擎上报的仿真时间
// 说明：时间推进由外部仿真引擎负责，这里只做记录和对外查询
type Clock struct {
	clockv1connect.UnimplementedClockServiceHandler

	DT         float64 // 每步时间间隔（秒）
	START_STEP int32   // 起始步
	END_STEP   int32   // 结束步，控制区间[START, END)

	T    float64 // 当前仿真时间（秒）
	Step int32   // 当前步数
}

// New 根据配置创建新的时钟实例
// 参数：stepConfig-控制步配置
// 返回：初始化完成的时钟实例
func New(stepConfig config.ControlStep) *Clock {
	c := &Clock{
		DT:         stepConfig.Interval,
		START_STEP: stepConfig.Start,
		END_STEP:   stepConfig.Start + stepConfig.Total,
	}
	c.Init()
	return c
}

// Init 重置时钟状态
func (c *Clock) Init() {
	c.Step = c.START_STEP
	c.T = float64(c.Step) * c.DT
}

// Advance 进入下一步
// 功能：步数+1，并以外部仿真上报的时间为准更新T
// 参数：simTime-外部仿真时间，小于0表示未知，此时按DT推算
func (c *Clock) Advance(simTime float64) {
	c.Step++
	if simTime >= 0 {
		c.T = simTime
	} else {
		c.T = float64(c.Step) * c.DT
	}
}

// Done 是否已到达结束步
func (c *Clock) Done() bool {
	return c.Step >= c.END_STEP
}

// String 获取时钟的字符串表示（HH:MM:SS）
func (c *Clock) String() string {
	h, m, s := c.GetHourMinuteSecond()
	return fmt.Sprintf("%02d:%02d:%02d", h, m, int(s))
}

// GetHourMinuteSecond 获取当前时间的小时、分钟、秒
// 返回：小时、分钟、秒（秒为浮点数，支持亚秒级精度）
func (c *Clock) GetHourMinuteSecond() (int, int, float64) {
	hour := int(c.T) / 3600
	minute := int(c.T) % 3600 / 60
	second := c.T - float64(hour*3600+minute*60)
	return hour, minute, second
}
