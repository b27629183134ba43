package controller

import (
	"skillchain_backend/internal/service"
	"skillchain_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type LearningRecordController struct {
	Records *service.LearningRecordService
}

func NewLearningRecordController(records *service.LearningRecordService) *LearningRecordController {
	return &LearningRecordController{Records: records}
}

func (c *LearningRecordController) GetPreference(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	pref, err := c.Records.GetPreference(ctx.Request.Context(), user.UserID)
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, pref)
}

// SavePreference 保存入门问卷
func (c *LearningRecordController) SavePreference(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	var req service.PreferenceInput
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	pref, err := c.Records.SavePreference(ctx.Request.Context(), user.UserID, req)
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, pref)
}

func (c *LearningRecordController) RecordSession(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	var req service.SessionInput
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	sess, total, err := c.Records.RecordSession(ctx.Request.Context(), user.UserID, req)
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Created(ctx, gin.H{"session": sess, "totalSessions": total})
}

type SubmitQuizRequest struct {
	Score *int `json:"score" binding:"required,gte=0,lte=100"`
}

// SubmitQuiz 提交测验成绩，未通过时自动安排复习
func (c *LearningRecordController) SubmitQuiz(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}
	quizID, ok := parseUintParam(ctx, "quizId")
	if !ok {
		return
	}

	var req SubmitQuizRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	outcome, err := c.Records.SubmitQuiz(ctx.Request.Context(), user.UserID, quizID, *req.Score)
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Created(ctx, outcome)
}
