package model

import (
	"time"

	"gorm.io/datatypes"
)

type PlanEntryStatus string

const (
	PlanEntryPending      PlanEntryStatus = "pending"
	PlanEntryDone         PlanEntryStatus = "done"
	PlanEntryMissed       PlanEntryStatus = "missed"
	PlanEntryReviewRetake PlanEntryStatus = "review_retake"
)

// StudyPlanEntry 学习计划中的一次学习安排
// 同一学习者的计划中 (lesson_id, scheduled_at 精确到分钟) 不重复
type StudyPlanEntry struct {
	BaseModel
	UserID              uint            `gorm:"index:idx_plan_user_time;type:bigint unsigned" json:"userId"`
	CourseID            uint            `gorm:"index;type:bigint unsigned" json:"courseId"`
	LessonID            uint            `gorm:"index;type:bigint unsigned" json:"lessonId"`
	ScheduledAt         time.Time       `gorm:"index:idx_plan_user_time" json:"scheduledAt"`
	Status              PlanEntryStatus `gorm:"size:20;default:'pending'" json:"status"`
	Method              FocusMethod     `gorm:"size:20" json:"method"`
	OriginalScheduledAt *time.Time      `json:"originalScheduledAt,omitempty"` // 第一次顺延前的时间
	ReviewOfSubmission  *uint           `gorm:"index;type:bigint unsigned" json:"reviewOfSubmission,omitempty"`
	Metadata            datatypes.JSON  `gorm:"type:json" json:"metadata,omitempty"`
}

func (StudyPlanEntry) TableName() string {
	return "study_plan_entries"
}

// SlotKey 用于去重的 (课时, 分钟) 键
type SlotKey struct {
	LessonID uint
	Minute   int64
}

func (e StudyPlanEntry) SlotKey() SlotKey {
	return SlotKey{LessonID: e.LessonID, Minute: e.ScheduledAt.Truncate(time.Minute).Unix()}
}

type AdaptationAction string

const (
	ActionShift           AdaptationAction = "shift"
	ActionReviewScheduled AdaptationAction = "review_scheduled"
	ActionPlanRegenerated AdaptationAction = "plan_regenerated"
)

// AdaptationLogEntry 计划自动调整的审计记录，只追加
type AdaptationLogEntry struct {
	BaseModel
	UserID    uint             `gorm:"index;type:bigint unsigned" json:"userId"`
	CourseID  uint             `gorm:"index;type:bigint unsigned" json:"courseId"`
	Timestamp time.Time        `gorm:"index" json:"timestamp"`
	Action    AdaptationAction `gorm:"size:30" json:"action"`
	Reason    string           `gorm:"type:text" json:"reason"`
	Details   datatypes.JSON   `gorm:"type:json" json:"details"`
}

func (AdaptationLogEntry) TableName() string {
	return "adaptation_logs"
}
