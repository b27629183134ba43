package app

import (
	"skillchain_backend/internal/config"
	"skillchain_backend/internal/middleware"
	"skillchain_backend/internal/util"
	"skillchain_backend/pkg/monitoring"

	"github.com/gin-gonic/gin"
)

func (a *App) registerRoutes(router *gin.Engine, c *controllers, cfg *config.Config) {
	router.GET("/metrics", monitoring.PrometheusHandler())

	// 1. 公共路由(无需登录)
	public := router.Group("/api")
	{
		public.GET("/health", c.health.HealthCheck)
	}

	// 2. 需要授权的路由
	authGroup := router.Group("/api")
	authGroup.Use(middleware.AuthMiddleware(cfg))
	{
		a.registerSchedulingRoutes(authGroup, c)
		a.registerStudyPlanRoutes(authGroup, c)
	}

	// 3. 管理员相关接口
	admin := router.Group("/api/admin")
	admin.Use(middleware.AuthMiddleware(cfg), middleware.RoleMiddleware(util.RoleAdmin))
	{
		admin.GET("/models/scheduling", c.adminModel.ListVersions)
		admin.POST("/models/scheduling/publish", c.adminModel.PublishModel)
		admin.DELETE("/models/scheduling/snapshots", c.adminModel.DeleteSnapshot)
	}
}

func (a *App) registerSchedulingRoutes(group *gin.RouterGroup, c *controllers) {
	scheduling := group.Group("/scheduling")
	{
		scheduling.GET("/recommendation", c.scheduling.GetRecommendation)
		scheduling.GET("/behavior", c.scheduling.GetBehavior)

		scheduling.GET("/preference", c.records.GetPreference)
		scheduling.PUT("/preference", c.records.SavePreference)
		scheduling.POST("/sessions", c.records.RecordSession)

		scheduling.GET("/model/status", c.scheduling.GetModelStatus)
		scheduling.POST("/model/init", c.scheduling.InitModel)
		scheduling.POST("/model/train", c.scheduling.TrainModel)
		scheduling.POST("/model/refresh", c.scheduling.RefreshModel)
		scheduling.POST("/model/export", c.scheduling.ExportModel)
	}
}

func (a *App) registerStudyPlanRoutes(group *gin.RouterGroup, c *controllers) {
	plan := group.Group("/study-plan")
	{
		plan.POST("/generate", c.studyPlan.GeneratePlan)
		plan.GET("", c.studyPlan.GetPlan)
		plan.GET("/log", c.studyPlan.GetLog)
		plan.PATCH("/entries/:id/status", c.studyPlan.UpdateEntryStatus)
		plan.POST("/shift", c.studyPlan.ShiftPlan)
		plan.POST("/lessons/:lessonId/complete", c.studyPlan.CompleteLesson)
	}

	group.POST("/courses/:courseId/quiz-submitted", c.studyPlan.QuizSubmitted)
	group.POST("/quizzes/:quizId/submissions", c.records.SubmitQuiz)
}
