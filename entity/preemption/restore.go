package preemption

import (
	"sort"

	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity"
	"github.com/tsinghua-fib-lab/agentsociety-signal/metrics"
)

// restore 恢复路口
// 功能：先恢复保存的信号程序ID使其全部相位重新可用，再恢复保存的相位序号
// 说明：无论成功与否都删除快照并交还决策引擎，失败时记录RESTORE_FAILED事件
func (e *Engine) restore(id string, tick int32) error {
	rec := e.records[id]
	var err error
	if err = e.signals.SetActiveProgram(id, rec.SavedProgram); err != nil {
		err = entity.NewControlError(id, "set_program", err)
	} else if err = e.signals.SetActivePhase(id, rec.SavedPhase); err != nil {
		err = entity.NewControlError(id, "set_phase", err)
	}

	delete(e.records, id)
	e.suppressor.MarkResumed(id, tick)
	e.restorations++
	metrics.RecordRestoration(err != nil)

	ev := Event{
		Episode:      rec.Episode,
		Type:         EventRestored,
		Intersection: id,
		Tick:         tick,
		Vehicle:      rec.Vehicle,
	}
	if err != nil {
		e.failures++
		ev.Type = EventRestoreFailed
		ev.Err = err.Error()
		log.Errorf("RESTORE FAILED %s (program %s phase %d), handed back to adaptive control: %v", id, rec.SavedProgram, rec.SavedPhase, err)
	} else {
		log.Infof("RESTORED %s to program %s phase %d", id, rec.SavedProgram, rec.SavedPhase)
	}
	e.events = append(e.events, ev)
	return err
}

// Shutdown 退出时处理仍被接管的路口
// 参数：tick-当前步数
// 返回：未能确认恢复的路口（有序）
// 说明：配置restore_on_exit时逐个恢复，否则全部作为遗留情况返回
func (e *Engine) Shutdown(tick int32) []string {
	residual := make([]string, 0)
	for _, id := range e.Overridden() {
		if !e.c.RestoreOnExit {
			residual = append(residual, id)
			continue
		}
		if err := e.restore(id, tick); err != nil {
			residual = append(residual, id)
		}
	}
	for _, id := range residual {
		log.Warnf("intersection %s left in an unverified state at shutdown", id)
	}
	return residual
}

// Overridden 当前被接管的路口（有序）
func (e *Engine) Overridden() []string {
	ids := lo.Keys(e.records)
	sort.Strings(ids)
	return ids
}

// Record 查询路口的接管快照
func (e *Engine) Record(id string) (Record, bool) {
	rec, ok := e.records[id]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Events 接管事件日志
func (e *Engine) Events() []Event {
	return append([]Event(nil), e.events...)
}

// Stats 紧急优先统计
func (e *Engine) Stats() entity.PreemptionStats {
	return entity.PreemptionStats{
		TotalPreemptions:            e.preemptions,
		TotalRestorations:           e.restorations,
		RestoreFailures:             e.failures,
		UniqueIntersectionsAffected: len(e.affected),
		ActiveOverrides:             len(e.records),
	}
}
