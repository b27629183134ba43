package model

// FocusMethod 学习方法（专注技巧）
type FocusMethod string

const (
	MethodPomodoro FocusMethod = "pomodoro"
	MethodFlowtime FocusMethod = "flowtime"
	MethodBlitz    FocusMethod = "blitz"
	Method5217     FocusMethod = "52_17"
)

// FocusMethods 固定顺序，下标即模型特征中的方法编号
var FocusMethods = []FocusMethod{MethodPomodoro, MethodFlowtime, MethodBlitz, Method5217}

// MethodIndex 返回方法在 FocusMethods 中的下标，未知方法返回 -1
func MethodIndex(m FocusMethod) int {
	for i, known := range FocusMethods {
		if known == m {
			return i
		}
	}
	return -1
}

// DurationClass 方法对应的专注时长档位
func (m FocusMethod) DurationClass() FocusSpan {
	switch m {
	case MethodBlitz, MethodPomodoro:
		return FocusSpanShort
	case Method5217:
		return FocusSpanMedium
	case MethodFlowtime:
		return FocusSpanLong
	}
	return ""
}

// Description 面向学习者的简短说明
func (m FocusMethod) Description() string {
	switch m {
	case MethodPomodoro:
		return "25-minute focused sessions with 5-minute breaks"
	case MethodFlowtime:
		return "flexible sessions based on natural focus flow"
	case MethodBlitz:
		return "short intense 15-minute sessions"
	case Method5217:
		return "52-minute work sessions with 17-minute breaks"
	}
	return ""
}
