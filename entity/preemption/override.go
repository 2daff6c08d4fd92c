package preemption

import (
	"fmt"
	"strings"

	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/agentsociety-signal/entity"
)

const (
	green = 'G'
	red   = 'r'
)

// buildOverride 计算进口道全绿的信号状态
// 功能：放行车辆所在进口道的全部信号连接，而不仅是车辆自身车道
// 参数：id-路口ID，links-车辆确认经过的信号连接序号
// 返回：信号状态字符串
// 算法说明：
// 1. 以当前信号状态字符串的长度为准，全部初始化为红灯
// 2. 取第一个确认连接的停车线标识，所有停车线标识相同的连接置为绿灯
// 3. 若无绿灯，退化为只放行确认连接；仍无绿灯时放行连接0
func (e *Engine) buildOverride(id string, links []int) (string, error) {
	current, err := e.signals.SignalState(id)
	if err != nil {
		return "", entity.NewControlError(id, "get_state", err)
	}
	if current == "" {
		return "", entity.NewControlError(id, "get_state", fmt.Errorf("empty signal state"))
	}
	state := []byte(strings.Repeat(string(red), len(current)))
	gave := false

	controlled, err := e.signals.ControlledLinks(id)
	if err != nil {
		log.Warnf("intersection %s: controlled links unavailable, greening confirmed links only: %v", id, err)
	} else if ref := stopLineOf(controlled, links); ref != "" {
		for _, l := range controlled {
			if l.StopLine == ref && l.Index >= 0 && l.Index < len(state) {
				state[l.Index] = green
				gave = true
			}
		}
		if gave {
			log.Debugf("intersection %s: approach %s gets %d/%d links green", id, ref, strings.Count(string(state), string(green)), len(state))
		}
	}
	if !gave {
		for _, idx := range links {
			if idx >= 0 && idx < len(state) {
				state[idx] = green
				gave = true
			}
		}
		if gave {
			log.Infof("intersection %s: fallback to confirmed link indices %v", id, links)
		}
	}
	if !gave {
		state[0] = green
		log.Warnf("intersection %s: fallback to link 0", id)
	}
	return string(state), nil
}

// stopLineOf 第一个确认连接的停车线标识，找不到时返回空串
func stopLineOf(controlled []entity.ControlledLink, links []int) string {
	if len(links) == 0 {
		return ""
	}
	l, ok := lo.Find(controlled, func(l entity.ControlledLink) bool {
		return l.Index == links[0]
	})
	if !ok {
		return ""
	}
	return l.StopLine
}

// union 两个等长信号状态字符串的绿灯并集，长度不同时以b为准
func union(a, b string) string {
	if len(a) != len(b) {
		return b
	}
	res := []byte(b)
	for i := range res {
		if a[i] == green {
			res[i] = green
		}
	}
	return string(res)
}
