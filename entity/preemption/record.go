package preemption

import (
	"github.com/google/uuid"
)

// Record 一次紧急优先接管的现场快照，只在路口被接管期间存在
type Record struct {
	Intersection string
	Episode      uuid.UUID // 接管事件ID，PREEMPTED与对应的RESTORED/RESTORE_FAILED共用
	SavedPhase   int       // 接管前的相位序号
	SavedProgram string    // 接管前的信号程序ID
	Override     string    // 当前写入的信号状态字符串
	TickSaved    int32     // 保存快照的步数
	Vehicle      string    // 触发接管的车辆
}

// EventType 接管事件类型
type EventType string

const (
	EventPreempted     EventType = "PREEMPTED"
	EventRestored      EventType = "RESTORED"
	EventRestoreFailed EventType = "RESTORE_FAILED"
)

// Event 接管事件日志
type Event struct {
	Episode      uuid.UUID
	Type         EventType
	Intersection string
	Tick         int32
	Distance     float64 // 仅PREEMPTED
	State        string  // 仅PREEMPTED
	Vehicle      string
	Err          string // 仅RESTORE_FAILED
}

// approach 一辆车在一个路口的进口信息
type approach struct {
	links    []int   // 确认经过的信号连接序号
	distance float64 // 到停车线的最小距离
}
