package model

import "time"

// Quiz 课程测验，可关联到某一课时
type Quiz struct {
	BaseModel
	CourseID uint   `gorm:"index;type:bigint unsigned" json:"courseId"`
	LessonID *uint  `gorm:"index;type:bigint unsigned" json:"lessonId,omitempty"`
	Title    string `gorm:"size:255" json:"title"`
}

func (Quiz) TableName() string {
	return "quizzes"
}

type QuizSubmission struct {
	BaseModel
	UserID      uint      `gorm:"index;type:bigint unsigned" json:"userId"`
	QuizID      uint      `gorm:"index;type:bigint unsigned" json:"quizId"`
	Quiz        *Quiz     `gorm:"foreignKey:QuizID" json:"quiz,omitempty"`
	Score       int       `json:"score"`
	SubmittedAt time.Time `gorm:"index" json:"submittedAt"`
}

func (QuizSubmission) TableName() string {
	return "quiz_submissions"
}
