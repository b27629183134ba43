package model

import "time"

type Course struct {
	BaseModel
	Title        string `gorm:"size:255;not null" json:"title"`
	PassingScore *int   `json:"passingScore,omitempty"` // 教师设置的及格线，为空时使用默认值
	Published    bool   `gorm:"default:true" json:"published"`
}

func (Course) TableName() string {
	return "courses"
}

type CourseModule struct {
	BaseModel
	CourseID uint   `gorm:"index;type:bigint unsigned" json:"courseId"`
	Title    string `gorm:"size:255" json:"title"`
	Order    int    `gorm:"column:sort_order;default:0" json:"order"`
}

func (CourseModule) TableName() string {
	return "course_modules"
}

type Lesson struct {
	BaseModel
	CourseID        uint   `gorm:"index;type:bigint unsigned" json:"courseId"`
	ModuleID        uint   `gorm:"index;type:bigint unsigned" json:"moduleId"`
	Title           string `gorm:"size:255" json:"title"`
	Order           int    `gorm:"column:sort_order;default:0" json:"order"`
	DurationMinutes int    `gorm:"default:0" json:"durationMinutes"`
}

func (Lesson) TableName() string {
	return "lessons"
}

// Enrollment 报名即视为已开始课程
type Enrollment struct {
	BaseModel
	UserID   uint   `gorm:"index;type:bigint unsigned" json:"userId"`
	CourseID uint   `gorm:"index;type:bigint unsigned" json:"courseId"`
	Status   string `gorm:"size:20;default:'active'" json:"status"` // active, completed
}

func (Enrollment) TableName() string {
	return "enrollments"
}

type LessonCompletion struct {
	BaseModel
	UserID      uint      `gorm:"index;type:bigint unsigned" json:"userId"`
	LessonID    uint      `gorm:"index;type:bigint unsigned" json:"lessonId"`
	CompletedAt time.Time `json:"completedAt"`
}

func (LessonCompletion) TableName() string {
	return "lesson_completions"
}
