package controller

import (
	"errors"
	"skillchain_backend/internal/service"
	"skillchain_backend/internal/util"
	"strconv"

	"github.com/gin-gonic/gin"
)

type SchedulingController struct {
	Registry *service.EngineRegistry
	Behavior *service.BehaviorService
	Export   *service.ModelExportService
}

func NewSchedulingController(registry *service.EngineRegistry, behavior *service.BehaviorService, export *service.ModelExportService) *SchedulingController {
	return &SchedulingController{Registry: registry, Behavior: behavior, Export: export}
}

// GetRecommendation 推荐当前（或指定 hour）最适合的专注方法
func (c *SchedulingController) GetRecommendation(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	engine := c.Registry.Engine(user.UserID)
	if raw := ctx.Query("hour"); raw != "" {
		hour, err := strconv.Atoi(raw)
		if err != nil || hour < 0 || hour > 23 {
			util.BadRequest(ctx, "hour must be between 0 and 23")
			return
		}
		util.Success(ctx, engine.PredictAt(ctx.Request.Context(), hour))
		return
	}
	util.Success(ctx, engine.PredictBestMethod(ctx.Request.Context()))
}

func (c *SchedulingController) GetModelStatus(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}
	util.Success(ctx, c.Registry.Engine(user.UserID).Status())
}

// InitModel 按 共享模型 -> 本地缓存 -> 历史训练 -> 基线 的顺序初始化
func (c *SchedulingController) InitModel(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}
	util.Success(ctx, c.Registry.Engine(user.UserID).Init(ctx.Request.Context()))
}

// TrainModel 数据不足时仍返回 200，附带基线模型状态和提示
func (c *SchedulingController) TrainModel(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	status, err := c.Registry.Engine(user.UserID).TrainModel(ctx.Request.Context())
	var insufficient *util.InsufficientDataError
	if errors.As(err, &insufficient) {
		util.Success(ctx, gin.H{
			"status":  status,
			"warning": err.Error(),
		})
		return
	}
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{"status": status})
}

func (c *SchedulingController) RefreshModel(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	engine := c.Registry.Engine(user.UserID)
	loaded := engine.LoadGlobalModel(ctx.Request.Context())
	util.Success(ctx, gin.H{
		"loaded": loaded,
		"status": engine.Status(),
	})
}

func (c *SchedulingController) ExportModel(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	res, err := c.Export.ExportModel(ctx.Request.Context(), user.UserID)
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Created(ctx, res)
}

func (c *SchedulingController) GetBehavior(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}

	report, err := c.Behavior.Analyze(ctx.Request.Context(), user.UserID)
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, report)
}
