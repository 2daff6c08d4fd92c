package topology

import (
	"strings"

	"github.com/tsinghua-fib-lab/agentsociety-signal/entity"
)

const (
	greenChars  = "Gg"
	yellowChars = "yY"
	redChars    = "rs"
)

// Classify 根据信号状态字符串判断相位类型
// 算法说明：
// 1. 忽略红灯字符（r、s），剩余为空则为全红清空相位
// 2. 剩余字符中有黄灯则为黄灯过渡相位（如yyrrG，黄灯与残余绿灯并存）
// 3. 否则有绿灯则为绿灯相位
// 4. 其余（如全部为o、O等熄灯状态）视为清空相位
func Classify(state string) entity.PhaseType {
	rest := strings.Map(func(r rune) rune {
		if strings.ContainsRune(redChars, r) {
			return -1
		}
		return r
	}, state)
	switch {
	case rest == "":
		return entity.PhaseClearance
	case strings.ContainsAny(rest, yellowChars):
		return entity.PhaseWarning
	case strings.ContainsAny(rest, greenChars):
		return entity.PhaseGreen
	default:
		return entity.PhaseClearance
	}
}

// IsGreenChar 信号字符是否为放行（G或g）
func IsGreenChar(c byte) bool {
	return c == 'G' || c == 'g'
}
