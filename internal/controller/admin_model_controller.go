package controller

import (
	"skillchain_backend/internal/model"
	"skillchain_backend/internal/repository"
	"skillchain_backend/internal/service"
	"skillchain_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type AdminModelController struct {
	Export  *service.ModelExportService
	Records *repository.ModelRecordRepository
}

func NewAdminModelController(export *service.ModelExportService, records *repository.ModelRecordRepository) *AdminModelController {
	return &AdminModelController{Export: export, Records: records}
}

type PublishModelRequest struct {
	Object string `json:"object" binding:"required"`
}

// PublishModel 把导出的快照发布为新的共享模型版本
func (c *AdminModelController) PublishModel(ctx *gin.Context) {
	var req PublishModelRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	rec, err := c.Export.PublishModel(ctx.Request.Context(), req.Object)
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Created(ctx, gin.H{
		"modelType":    rec.ModelType,
		"modelVersion": rec.ModelVersion,
		"accuracy":     rec.Accuracy,
		"trainedAt":    rec.TrainedAt,
	})
}

func (c *AdminModelController) ListVersions(ctx *gin.Context) {
	recs, err := c.Records.ListVersions(ctx.Request.Context(), model.ModelTypeScheduling)
	if err != nil {
		respondError(ctx, err)
		return
	}

	versions := make([]gin.H, 0, len(recs))
	for _, r := range recs {
		versions = append(versions, gin.H{
			"id":           r.ID,
			"modelVersion": r.ModelVersion,
			"isActive":     r.IsActive,
			"accuracy":     r.Accuracy,
			"trainedAt":    r.TrainedAt,
		})
	}
	util.Success(ctx, versions)
}

func (c *AdminModelController) DeleteSnapshot(ctx *gin.Context) {
	object := ctx.Query("object")
	if object == "" {
		util.BadRequest(ctx, "object is required")
		return
	}
	if err := c.Export.DeleteSnapshot(ctx.Request.Context(), object); err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{"deleted": object})
}
