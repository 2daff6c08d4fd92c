package task

import (
	"context"
	"errors"
	"sync/atomic"

	"git.fiblab.net/sim/syncer/v3"
	"github.com/tsinghua-fib-lab/agentsociety-signal/bridge"
	"github.com/tsinghua-fib-lab/agentsociety-signal/clock"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity/junction"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity/preemption"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity/telemetry"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity/topology"
	"github.com/tsinghua-fib-lab/agentsociety-signal/utils/config"
	"github.com/tsinghua-fib-lab/agentsociety-signal/utils/input"
)

// Context 信控任务上下文
// 功能：包含一次信控任务的所有组件和状态
// 说明：外部仿真引擎、拓扑、需求聚合、紧急优先与自适应决策，按固定顺序每步执行
type Context struct {
	// 任务名
	job string
	// 关闭指令
	closed atomic.Bool

	c config.Config

	// 时钟
	clock *clock.Clock

	// 辅助程序，对外提供RPC服务，可为nil
	sidecar *syncer.Sidecar
	// sidecar close channel
	sidecarCloseCh chan struct{}
	serving        bool

	// 调试输出的路口，为空表示不输出
	debugTLS string

	// 外部仿真引擎
	sim entity.ISimulation
	// 路口拓扑
	topo *topology.Topology
	// 交通需求聚合
	aggregator *telemetry.Aggregator
	// 紧急优先引擎
	preemption *preemption.Engine
	// 自适应决策引擎
	junctionManager *junction.Manager
}

// NewContext 创建信控任务上下文
// 功能：连接仿真桥接进程，构建拓扑，创建各组件并注册RPC服务
// 参数：
//   - job: 任务名称
//   - cacheDir: 地图缓存目录
//   - c: 配置对象
//   - sidecar: sidecar实例
//   - startSidecarServe: 是否启动sidecar服务
//
// 返回：初始化完成的Context实例
// 算法说明：
// 1. 连接仿真桥接进程
// 2. 配置了地图时从地图构建拓扑，否则通过桥接进程在线发现
// 3. 创建时钟、需求聚合、决策引擎与紧急优先引擎
// 4. 注册RPC服务到sidecar，按需启动sidecar服务
func NewContext(
	job string,
	cacheDir string,
	c config.Config,
	sidecar *syncer.Sidecar,
	startSidecarServe bool,
) *Context {
	client := bridge.New(context.Background(), c.Bridge)
	if err := client.Connect(); err != nil {
		log.Panicf("failed to connect to simulation bridge: %v", err)
	}

	var topo *topology.Topology
	m, err := input.LoadMap(c.Input, cacheDir)
	switch {
	case err == nil:
		topo, err = topology.FromMap(m, c.Telemetry.DefaultLaneLength)
	case errors.Is(err, input.ErrNoMap):
		topo, err = topology.Discover(client, c.Telemetry.DefaultLaneLength)
	}
	if err != nil {
		log.Panicf("failed to build topology: %v", err)
	}

	ctx := New(job, c, client, topo, sidecar)
	if sidecar != nil && startSidecarServe {
		ctx.serving = true
		go func() {
			err := ctx.sidecar.Serve()
			if err != nil {
				log.Panicf("failed to serve: %v", err)
			}
			ctx.sidecarCloseCh <- struct{}{}
		}()
	}
	return ctx
}

// New 用给定的仿真引擎与拓扑创建上下文
// 说明：sidecar为nil时不注册RPC服务
func New(job string, c config.Config, sim entity.ISimulation, topo *topology.Topology, sidecar *syncer.Sidecar) *Context {
	ctx := &Context{
		job:            job,
		c:              c,
		sidecar:        sidecar,
		sidecarCloseCh: make(chan struct{}, 1),
		sim:            sim,
		topo:           topo,
	}
	ctx.clock = clock.New(c.Control.Step)
	ctx.aggregator = telemetry.New(topo, sim, c.Telemetry)
	ctx.junctionManager = junction.NewManager(ctx, topo, sim, ctx.aggregator)
	ctx.preemption = preemption.New(c.Preemption, topo, sim, sim, ctx.junctionManager)

	if sidecar != nil {
		ctx.clock.Register(sidecar)
		ctx.junctionManager.Register(sidecar)
	}
	for _, id := range topo.Invalid() {
		log.Warnf("intersection %s has no phases and is ignored", id)
	}
	log.Infof("job %s: %d intersections, %d controllable", job, len(topo.IDs()), len(controllable(topo)))
	return ctx
}

func controllable(topo entity.ITopology) []string {
	res := make([]string, 0)
	for _, id := range topo.IDs() {
		if topo.Controllable(id) {
			res = append(res, id)
		}
	}
	return res
}

func (ctx *Context) Clock() *clock.Clock {
	return ctx.clock
}

func (ctx *Context) Config() config.Config {
	return ctx.c
}

func (ctx *Context) JunctionManager() *junction.Manager {
	return ctx.junctionManager
}

func (ctx *Context) Preemption() *preemption.Engine {
	return ctx.preemption
}

// DebugIntersection 设置每10步以Debug级别输出拓扑与需求的路口
func (ctx *Context) DebugIntersection(id string) {
	if !ctx.topo.Has(id) {
		log.Warnf("debug intersection %s is not in the loaded topology", id)
	}
	ctx.debugTLS = id
}

// Stop 请求在当前步结束后停止
func (ctx *Context) Stop() {
	ctx.closed.Store(true)
}

// Close 关闭sidecar
func (ctx *Context) Close() {
	if ctx.sidecar == nil {
		return
	}
	ctx.sidecar.Close()
	if ctx.serving {
		// wait for graceful stop
		<-ctx.sidecarCloseCh
		ctx.serving = false
	}
}

var _ entity.ITaskContext = (*Context)(nil)
