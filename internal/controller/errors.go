package controller

import (
	"errors"
	"net/http"
	"skillchain_backend/internal/util"

	"github.com/gin-gonic/gin"
)

// respondError 将业务错误映射为 HTTP 状态码
func respondError(ctx *gin.Context, err error) {
	var (
		noLesson  *util.NoEligibleLessonError
		conflict  *util.ScheduleConflictError
		training  *util.TrainingError
		remote    *util.RemoteFetchError
		shortData *util.InsufficientDataError
	)
	switch {
	case errors.Is(err, util.ErrNoEnrolledCourse), errors.As(err, &noLesson):
		util.UnprocessableEntity(ctx, err.Error())
	case errors.As(err, &conflict), errors.Is(err, util.ErrTrainingInProgress):
		util.Conflict(ctx, err.Error())
	case errors.As(err, &shortData):
		util.UnprocessableEntity(ctx, err.Error())
	case errors.Is(err, util.ErrEntryNotFound), errors.Is(err, util.ErrQuizNotFound),
		errors.Is(err, util.ErrLessonNotFound), errors.Is(err, util.ErrNoActiveModel):
		util.Error(ctx, http.StatusNotFound, err.Error())
	case errors.Is(err, util.ErrInvalidStatus), errors.Is(err, util.ErrInvalidInput),
		errors.Is(err, util.ErrUnsupportedLayer), errors.As(err, &training):
		util.BadRequest(ctx, err.Error())
	case errors.Is(err, util.ErrPermissionDenied):
		util.Forbidden(ctx)
	case errors.As(err, &remote):
		util.Error(ctx, http.StatusBadGateway, err.Error())
	default:
		util.LogInternalError(ctx, err)
	}
}

func parseUintParam(ctx *gin.Context, name string) (uint, bool) {
	id := util.MustParseUint(ctx.Param(name))
	if id == 0 {
		util.BadRequest(ctx, "invalid "+name)
		return 0, false
	}
	return id, true
}
