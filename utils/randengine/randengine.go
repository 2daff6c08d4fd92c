// 随机数引擎，包装了golang.org/x/exp/rand
package randengine

import (
	"flag"
	"sync"

	"golang.org/x/exp/rand"
)

var (
	seedOffset = flag.Uint64("rand.seed_offset", 0, "seed offset") // 种子偏移量，用于调整随机数生成
)

// Engine 随机数引擎
// 说明：基于golang.org/x/exp/rand库，带Safe后缀的方法可并发调用
type Engine struct {
	*rand.Rand            // 底层随机数生成器
	mtx        sync.Mutex // 互斥锁，用于线程安全操作
}

// New 创建随机数引擎
// 参数：seed-随机数种子，实际种子为seed加上命令行给出的种子偏移量
func New(seed uint64) *Engine {
	return &Engine{Rand: rand.New(rand.NewSource(seed + *seedOffset))}
}

// Float64Safe 随机生成[0.0, 1.0)范围内的浮点数（线程安全）
func (e *Engine) Float64Safe() float64 {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	return e.Float64()
}

// UniformSafe 随机生成[lo, hi)范围内的浮点数（线程安全）
func (e *Engine) UniformSafe(lo, hi float64) float64 {
	return lo + (hi-lo)*e.Float64Safe()
}
