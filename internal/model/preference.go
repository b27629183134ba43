package model

import "gorm.io/datatypes"

type FocusSpan string

const (
	FocusSpanShort  FocusSpan = "short"
	FocusSpanMedium FocusSpan = "medium"
	FocusSpanLong   FocusSpan = "long"
)

type StruggleType string

const (
	StruggleDistraction     StruggleType = "distraction"
	StruggleProcrastination StruggleType = "procrastination"
	StruggleFatigue         StruggleType = "fatigue"
	StruggleBoredom         StruggleType = "boredom"
)

// 计划生成使用的时间段类别
const (
	TimeOfDayRoutine  = "routine"
	TimeOfDayWeekend  = "weekend"
	TimeOfDayFlexible = "flexible"
)

// UserPreference 入门问卷得出的学习偏好，调度核心只读
type UserPreference struct {
	BaseModel
	UserID             uint           `gorm:"uniqueIndex;type:bigint unsigned" json:"userId"`
	PreferredStudyTime string         `gorm:"size:20" json:"preferredStudyTime"` // morning, afternoon, evening, night, routine, weekend, flexible
	FocusSpan          FocusSpan      `gorm:"size:20" json:"focusSpan"`
	Struggle           StruggleType   `gorm:"size:30" json:"struggle"`
	WeeklyHours        float64        `gorm:"default:0" json:"weeklyHours"`
	PreferredTimeOfDay string         `gorm:"size:20" json:"preferredTimeOfDay"` // routine, weekend, flexible
	AvailableDays      datatypes.JSON `gorm:"type:json" json:"availableDays"`    // ["Monday", "Wednesday"]
}

func (UserPreference) TableName() string {
	return "user_preferences"
}

// DefaultPreference 没有问卷数据时的基线偏好
func DefaultPreference() UserPreference {
	return UserPreference{
		PreferredStudyTime: "evening",
		FocusSpan:          FocusSpanShort,
		Struggle:           StruggleDistraction,
		PreferredTimeOfDay: TimeOfDayFlexible,
	}
}
