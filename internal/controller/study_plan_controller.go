package controller

import (
	"skillchain_backend/internal/model"
	"skillchain_backend/internal/service"
	"skillchain_backend/internal/util"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

type StudyPlanController struct {
	Plans   *service.StudyPlanService
	Adapter *service.PlanAdapterService
	Records *service.LearningRecordService
}

func NewStudyPlanController(plans *service.StudyPlanService, adapter *service.PlanAdapterService, records *service.LearningRecordService) *StudyPlanController {
	return &StudyPlanController{Plans: plans, Adapter: adapter, Records: records}
}

// GeneratePlan 重新生成未来 7 天的学习计划
func (c *StudyPlanController) GeneratePlan(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	plan, err := c.Plans.GeneratePlan(ctx.Request.Context(), user.UserID)
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Created(ctx, plan)
}

// GetPlan from/to 为 yyyy-mm-dd，to 当天包含在内；默认从今天开始
func (c *StudyPlanController) GetPlan(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	from := util.StartOfDay(c.Plans.Now())
	var to time.Time
	if raw := ctx.Query("from"); raw != "" {
		t, err := time.ParseInLocation(util.DateFormat, raw, time.Local)
		if err != nil {
			util.BadRequest(ctx, "from must be formatted as "+util.DateFormat)
			return
		}
		from = t
	}
	if raw := ctx.Query("to"); raw != "" {
		t, err := time.ParseInLocation(util.DateFormat, raw, time.Local)
		if err != nil {
			util.BadRequest(ctx, "to must be formatted as "+util.DateFormat)
			return
		}
		to = t.AddDate(0, 0, 1)
	}

	entries, err := c.Plans.GetPlan(ctx.Request.Context(), user.UserID, from, to)
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, entries)
}

func (c *StudyPlanController) GetLog(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	courseID := util.MustParseUint(ctx.Query("courseId"))
	limit, _ := strconv.Atoi(ctx.DefaultQuery("limit", "50"))

	logs, err := c.Plans.GetLog(ctx.Request.Context(), user.UserID, courseID, limit)
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, logs)
}

type UpdateEntryStatusRequest struct {
	Status model.PlanEntryStatus `json:"status" binding:"required,oneof=done missed"`
}

func (c *StudyPlanController) UpdateEntryStatus(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}
	id, ok := parseUintParam(ctx, "id")
	if !ok {
		return
	}

	var req UpdateEntryStatusRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	entry, err := c.Plans.UpdateEntryStatus(ctx.Request.Context(), user.UserID, id, req.Status)
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, entry)
}

type ShiftPlanRequest struct {
	CourseID uint   `json:"courseId"`
	From     string `json:"from"` // yyyy-mm-dd，默认今天
	Reason   string `json:"reason" binding:"max=255"`
}

// ShiftPlan 跳过某天，之后的条目整体顺延
func (c *StudyPlanController) ShiftPlan(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	var req ShiftPlanRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	from := c.Plans.Now()
	if req.From != "" {
		t, err := time.ParseInLocation(util.DateFormat, req.From, time.Local)
		if err != nil {
			util.BadRequest(ctx, "from must be formatted as "+util.DateFormat)
			return
		}
		from = t
	}

	res, err := c.Adapter.ShiftPlan(ctx.Request.Context(), user.UserID, req.CourseID, from, req.Reason)
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, res)
}

// QuizSubmitted 测验服务提交成绩后的回调，调整失败只记录日志
func (c *StudyPlanController) QuizSubmitted(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}
	courseID, ok := parseUintParam(ctx, "courseId")
	if !ok {
		return
	}
	util.Success(ctx, c.Adapter.HandleQuizSubmitted(ctx.Request.Context(), user.UserID, courseID))
}

func (c *StudyPlanController) CompleteLesson(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}
	lessonID, ok := parseUintParam(ctx, "lessonId")
	if !ok {
		return
	}

	closed, err := c.Records.CompleteLesson(ctx.Request.Context(), user.UserID, lessonID)
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{"lessonId": lessonID, "closedEntries": closed})
}
