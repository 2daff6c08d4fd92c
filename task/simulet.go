package task

import (
	"flag"

	"github.com/tsinghua-fib-lab/agentsociety-signal/entity"
	"github.com/tsinghua-fib-lab/agentsociety-signal/metrics"
)

const (
	SelfName = "signal" // 本程序在模拟任务集群中的名字

	debugInterval = 10 // 调试路口输出间隔步数
)

var (
	heartBeatInterval = flag.Int("log.heartbeat_interval", 100, "心跳日志间隔步数")
)

// 结束原因
const (
	ReasonStepLimit = "step limit reached"
	ReasonDrained   = "network drained"
	ReasonStopped   = "stopped"
	ReasonSimError  = "simulation step failed"
)

// Summary 一次运行的汇总
type Summary struct {
	Steps      int32  // 执行的控制步数
	Reason     string // 结束原因
	Decision   entity.DecisionStats
	Preemption entity.PreemptionStats
	Residual   []string // 退出时未能确认恢复的路口
}

// step 执行一步
// 功能：推进仿真并按固定顺序执行各组件
// 返回：本步结束后路网状态，出错时ok为false
// 算法说明：
// 1. 外部仿真推进一步，时钟以仿真上报的时间为准
// 2. 需求聚合的历史最大值衰减
// 3. 紧急优先先于自适应决策执行，保证同一步内被接管的路口不会再被决策引擎控制
// 4. 自适应决策
// 5. 路网状态、心跳日志与指标
func (ctx *Context) step() (entity.NetworkStatus, error) {
	if err := ctx.sim.Step(); err != nil {
		return entity.NetworkStatus{}, err
	}
	t, err := ctx.sim.SimTime()
	if err != nil {
		log.Warnf("failed to read simulation time: %v", err)
		t = -1
	}
	ctx.clock.Advance(t)
	tick := ctx.clock.Step

	ctx.aggregator.BeginTick()
	errs := ctx.preemption.Step(tick)
	decisionErrs := ctx.junctionManager.Step(tick)
	for _, err := range decisionErrs {
		log.Warnf("step %d: %v", tick, err)
	}
	errs = append(errs, decisionErrs...)
	metrics.RecordControlErrors(errs)

	status, err := ctx.sim.Status()
	if err != nil {
		log.Warnf("failed to read network status: %v", err)
		status = entity.NetworkStatus{Time: ctx.clock.T, MinExpected: -1}
	}
	suppressed := len(ctx.junctionManager.CurrentlySuppressed())
	metrics.SetNetwork(status, suppressed)

	if ctx.debugTLS != "" && tick%debugInterval == 0 {
		ctx.debug(tick)
	}
	if *heartBeatInterval > 0 && tick%int32(*heartBeatInterval) == 0 {
		hour, minute, second := ctx.clock.GetHourMinuteSecond()
		log.Infof(
			"STEP: %d(%d:%d:%.2f) vehicles=%d wait=%.1f speed=%.2f switches=%d preempted=%d",
			tick,
			hour, minute, second,
			status.Vehicles, status.MeanWait, status.MeanSpeed,
			ctx.junctionManager.TotalSwitches(), suppressed,
		)
	}
	return status, nil
}

// debug 输出调试路口的拓扑、各绿灯相位的需求与当前相位类型
func (ctx *Context) debug(tick int32) {
	id := ctx.debugTLS
	ctx.topo.Debug(id)
	demand, err := ctx.aggregator.DemandOf(id)
	if err != nil {
		log.Debugf("debug %s step %d: demand unavailable: %v", id, tick, err)
	}
	for _, g := range ctx.topo.GreenPhases(id) {
		d := demand[g]
		log.Debugf("debug %s step %d: green %d count=%d queue=%d wait=%.1f density=%.4f(%.2f) waitNorm=%.2f speed=%.2f",
			id, tick, g, d.Count, d.Queue, d.Wait, d.Density, d.DensityNorm, d.WaitNorm, d.MeanSpeed)
	}
	phase, err := ctx.sim.ActivePhase(id)
	if err != nil {
		log.Debugf("debug %s step %d: phase unavailable: %v", id, tick, err)
		return
	}
	typ, ok := ctx.topo.PhaseType(id, phase)
	if !ok {
		log.Debugf("debug %s step %d: phase %d not in loaded topology", id, tick, phase)
		return
	}
	suppressed := false
	if j, err := ctx.junctionManager.GetOrError(id); err == nil {
		suppressed = j.Suppressed()
	}
	log.Debugf("debug %s step %d: phase %d type=%s suppressed=%v", id, tick, phase, typ, suppressed)
}

// Run 运行控制循环直到到达步数上限、路网车辆清空或收到停止指令
func (ctx *Context) Run() Summary {
	ctx.clock.Init()
	if ctx.sidecar != nil {
		// init syncer
		ctx.sidecar.Step(false)
	}
	var steps int32
	reason := ReasonStepLimit
	for {
		if ctx.closed.Load() {
			reason = ReasonStopped
			break
		}
		if ctx.clock.Done() {
			break
		}
		status, err := ctx.step()
		if err != nil {
			log.Errorf("step %d: %v", ctx.clock.Step, err)
			reason = ReasonSimError
			break
		}
		steps++
		if ctx.sidecar != nil {
			// 通知本步控制完成
			ctx.sidecar.NotifyStepReady()
		}
		drained := ctx.c.Control.StopWhenDrained && status.MinExpected == 0
		end := drained || ctx.clock.Done()
		close := false
		if ctx.sidecar != nil {
			close = ctx.sidecar.Step(end)
		}
		if drained {
			reason = ReasonDrained
			break
		}
		if close {
			reason = ReasonStopped
			break
		}
	}
	log.Infof("control loop complete after %d steps: %s", steps, reason)
	return ctx.shutdown(steps, reason)
}

// shutdown 恢复仍被接管的路口，输出汇总并关闭连接
func (ctx *Context) shutdown(steps int32, reason string) Summary {
	s := Summary{
		Steps:    steps,
		Reason:   reason,
		Residual: ctx.preemption.Shutdown(ctx.clock.Step),
	}
	s.Decision = ctx.junctionManager.Stats()
	s.Preemption = ctx.preemption.Stats()

	for _, id := range ctx.topo.IDs() {
		log.Debugf("intersection %s: %d switches, time served %v", id, s.Decision.SwitchCount[id], s.Decision.TimeServed[id])
	}
	log.Infof("switches: %d", ctx.junctionManager.TotalSwitches())
	log.Infof(
		"preemptions: %d, restorations: %d, restore failures: %d, intersections affected: %d",
		s.Preemption.TotalPreemptions, s.Preemption.TotalRestorations,
		s.Preemption.RestoreFailures, s.Preemption.UniqueIntersectionsAffected,
	)
	if len(s.Residual) > 0 {
		log.Warnf("intersections left overridden: %v", s.Residual)
	}

	if err := ctx.sim.Close(); err != nil {
		log.Warnf("failed to close simulation: %v", err)
	}
	ctx.Close()
	return s
}
