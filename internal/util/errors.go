package util

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrPermissionDenied   = errors.New("permission denied")
	ErrNoEnrolledCourse   = errors.New("no enrolled course: enroll in a course to generate a study plan")
	ErrTrainingInProgress = errors.New("model training already in progress")
	ErrUnsupportedLayer   = errors.New("unsupported model layer")
	ErrNoActiveModel      = errors.New("no active model record")
	ErrEntryNotFound      = errors.New("study plan entry not found")
	ErrInvalidStatus      = errors.New("invalid study plan entry status")
	ErrInvalidInput       = errors.New("invalid input")
	ErrQuizNotFound       = errors.New("quiz not found")
	ErrLessonNotFound     = errors.New("lesson not found")
)

// RemoteFetchError 读取共享模型失败
type RemoteFetchError struct {
	Op  string
	Err error
}

func (e *RemoteFetchError) Error() string {
	return fmt.Sprintf("remote fetch %s: %v", e.Op, e.Err)
}

func (e *RemoteFetchError) Unwrap() error { return e.Err }

// InsufficientDataError 训练样本不足
type InsufficientDataError struct {
	Have int
	Need int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient training data: have %d sessions, need %d", e.Have, e.Need)
}

type TrainingError struct {
	Reason string
	Err    error
}

func (e *TrainingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("training failed: %s: %v", e.Reason, e.Err)
	}
	return "training failed: " + e.Reason
}

func (e *TrainingError) Unwrap() error { return e.Err }

// NoEligibleLessonError 已报名课程中没有未完成的课时
type NoEligibleLessonError struct {
	UserID uint
}

func (e *NoEligibleLessonError) Error() string {
	return "no lessons left to schedule: every lesson in your enrolled courses is completed"
}

// ScheduleConflictError 当天 24 个小时都已占用，课时无处安排
type ScheduleConflictError struct {
	Day      time.Time
	LessonID uint
	Hour     int
}

func (e *ScheduleConflictError) Error() string {
	return fmt.Sprintf("schedule conflict on %s: no free slot for lesson %d (reached %02d:00); lower your weekly hours or add available days",
		e.Day.Format(DateFormat), e.LessonID, e.Hour)
}
