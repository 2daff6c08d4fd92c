package junction

import (
	"github.com/samber/lo"
)

// Junction 单个路口的自适应信控状态
// 说明：所有计时、跳过计数与统计量集中在一个记录中，只由Manager修改
type Junction struct {
	id           string
	greens       []int // 绿灯相位序号
	multiGreen   bool  // 是否有两个以上绿灯相位（否则只调整时长）
	controllable bool  // 是否有绿灯相位

	lastPhase      int     // 上一步观测到的相位，-1表示未知
	phaseStartTick int32   // 当前绿灯开始的步数
	allocated      float64 // 当前绿灯分配的时长（秒）
	pendingTarget  int     // 过渡结束后期望到达的绿灯相位
	hasPending     bool

	skipCount   map[int]int     // 绿灯相位->连续未被选中的次数
	switchCount int             // 切换次数
	timeServed  map[int]float64 // 绿灯相位->累计放行时长（秒）

	suppressed bool // 被紧急优先接管
	disabled   bool // 通过RPC关闭了自适应控制
}

func newJunction(id string, greens []int, multiGreen bool, defaultGreen float64) *Junction {
	return &Junction{
		id:           id,
		greens:       greens,
		multiGreen:   multiGreen,
		controllable: len(greens) > 0,
		lastPhase:    -1,
		allocated:    defaultGreen,
		skipCount: lo.SliceToMap(greens, func(p int) (int, int) {
			return p, 0
		}),
		timeServed: lo.SliceToMap(greens, func(p int) (int, float64) {
			return p, 0
		}),
	}
}

// reset 以刚进入绿灯的状态重新计时
func (j *Junction) reset(tick int32, defaultGreen float64) {
	j.phaseStartTick = tick
	j.allocated = defaultGreen
	j.hasPending = false
}

func (j *Junction) ID() string {
	return j.id
}

func (j *Junction) LastPhase() int {
	return j.lastPhase
}

func (j *Junction) PhaseStartTick() int32 {
	return j.phaseStartTick
}

func (j *Junction) Allocated() float64 {
	return j.allocated
}

// Pending 过渡中的目标绿灯相位
func (j *Junction) Pending() (int, bool) {
	return j.pendingTarget, j.hasPending
}

func (j *Junction) SkipCount(phase int) int {
	return j.skipCount[phase]
}

func (j *Junction) SwitchCount() int {
	return j.switchCount
}

func (j *Junction) TimeServed(phase int) float64 {
	return j.timeServed[phase]
}

func (j *Junction) Suppressed() bool {
	return j.suppressed
}
