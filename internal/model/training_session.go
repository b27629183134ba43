package model

import "time"

// TrainingSession 学习者的专注学习记录，只追加
type TrainingSession struct {
	BaseModel
	UserID          uint        `gorm:"index;type:bigint unsigned" json:"userId"`
	CourseID        uint        `gorm:"index;type:bigint unsigned" json:"courseId"`
	StartedAt       time.Time   `gorm:"index" json:"startedAt"`
	MethodUsed      FocusMethod `gorm:"size:20" json:"methodUsed"`
	Completed       bool        `gorm:"default:false" json:"completed"`
	DurationSeconds int         `gorm:"default:0" json:"durationSeconds"`
	TabSwitchCount  int         `gorm:"default:0" json:"tabSwitchCount"`
}

func (TrainingSession) TableName() string {
	return "study_sessions"
}
