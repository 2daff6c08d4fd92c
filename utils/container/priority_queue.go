// 基于container/heap的泛型小顶堆
package container

import "container/heap"

type entry[T any] struct {
	value    T
	priority float64 // 越小越靠前
	seq      int     // 入队序号，同优先级时序号小者靠前
}

// entries 实现heap.Interface
type entries[T any] []entry[T]

func (es entries[T]) Len() int { return len(es) }

func (es entries[T]) Less(i, j int) bool {
	if es[i].priority != es[j].priority {
		return es[i].priority < es[j].priority
	}
	return es[i].seq < es[j].seq
}

func (es entries[T]) Swap(i, j int) { es[i], es[j] = es[j], es[i] }

func (es *entries[T]) Push(x any) { *es = append(*es, x.(entry[T])) }

func (es *entries[T]) Pop() any {
	old := *es
	e := old[len(old)-1]
	*es = old[:len(old)-1]
	return e
}

// PriorityQueue 稳定的优先队列
// 说明：优先级相同的元素按入队顺序出队，排序结果确定
type PriorityQueue[T any] struct {
	es  entries[T]
	seq int
}

func NewPriorityQueue[T any]() *PriorityQueue[T] {
	return &PriorityQueue[T]{es: make(entries[T], 0)}
}

func (q *PriorityQueue[T]) Len() int {
	return len(q.es)
}

// Push 批量加入元素，全部加入后调用Heapify建堆
func (q *PriorityQueue[T]) Push(value T, priority float64) {
	q.es = append(q.es, entry[T]{value: value, priority: priority, seq: q.seq})
	q.seq++
}

// Heapify 建堆
func (q *PriorityQueue[T]) Heapify() {
	heap.Init(&q.es)
}

// HeapPop 弹出优先级数值最小的元素
func (q *PriorityQueue[T]) HeapPop() (value T, priority float64) {
	e := heap.Pop(&q.es).(entry[T])
	return e.value, e.priority
}
