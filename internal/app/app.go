package app

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"skillchain_backend/internal/config"
	"skillchain_backend/internal/controller"
	"skillchain_backend/internal/repository"
	"skillchain_backend/internal/service"
	"skillchain_backend/pkg/configwatcher"
	"skillchain_backend/pkg/database"
	"skillchain_backend/pkg/logger"
	"skillchain_backend/pkg/monitoring"
	"skillchain_backend/pkg/security"
	"skillchain_backend/pkg/tracing"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// 过期计划条目的清扫间隔
const missedSweepInterval = 10 * time.Minute

type App struct {
	Config          *config.Config
	Router          *gin.Engine
	DB              *gorm.DB
	Redis           *redis.Client
	services        *services
	tracer          *sdktrace.TracerProvider
	ctx             context.Context
	cancel          context.CancelFunc
	configCallbacks []func(*config.Config)
}

type repositories struct {
	preference *repository.PreferenceRepository
	modelRec   *repository.ModelRecordRepository
	session    *repository.TrainingSessionRepository
	course     *repository.CourseRepository
	assessment *repository.AssessmentRepository
	plan       *repository.StudyPlanRepository
	modelCache repository.ModelCache
}

type services struct {
	settings *service.SchedulingSettings
	storage  *service.StorageService
	registry *service.EngineRegistry
	plans    *service.StudyPlanService
	adapter  *service.PlanAdapterService
	behavior *service.BehaviorService
	export   *service.ModelExportService
	records  *service.LearningRecordService
}

type controllers struct {
	health     *controller.HealthController
	scheduling *controller.SchedulingController
	studyPlan  *controller.StudyPlanController
	records    *controller.LearningRecordController
	adminModel *controller.AdminModelController
}

func (a *App) RegisterConfigCallback(callback func(*config.Config)) {
	a.configCallbacks = append(a.configCallbacks, callback)
}

func (a *App) initRepositories(db *gorm.DB, rdb *redis.Client) *repositories {
	repos := &repositories{
		preference: repository.NewPreferenceRepository(db),
		modelRec:   repository.NewModelRecordRepository(db),
		session:    repository.NewTrainingSessionRepository(db),
		course:     repository.NewCourseRepository(db),
		assessment: repository.NewAssessmentRepository(db),
		plan:       repository.NewStudyPlanRepository(db),
	}
	// 未启用 redis 时模型缓存退化为进程内缓存
	if rdb != nil {
		repos.modelCache = repository.NewRedisModelCache(rdb)
	} else {
		repos.modelCache = repository.NewMemoryModelCache()
	}
	return repos
}

func (a *App) initServices(repos *repositories, cfg *config.Config) *services {
	s := &services{}

	s.settings = service.NewSchedulingSettings(cfg.Scheduling)
	s.storage = service.NewStorageService(&cfg.Storage)
	s.registry = service.NewEngineRegistry(repos.preference, repos.session, repos.modelRec, repos.modelCache, s.settings)
	s.plans = service.NewStudyPlanService(repos.course, repos.preference, repos.plan, s.registry, s.settings)
	s.adapter = service.NewPlanAdapterService(repos.course, repos.assessment, repos.preference, repos.plan, s.settings)
	s.behavior = service.NewBehaviorService(repos.session, s.settings)
	s.export = service.NewModelExportService(s.registry, s.storage, repos.modelRec)
	s.records = service.NewLearningRecordService(repos.preference, repos.session, repos.course, repos.assessment, s.plans, s.adapter)

	return s
}

func (a *App) initControllers(s *services, repos *repositories) *controllers {
	return &controllers{
		health:     controller.NewHealthController(a.DB, a.Redis),
		scheduling: controller.NewSchedulingController(s.registry, s.behavior, s.export),
		studyPlan:  controller.NewStudyPlanController(s.plans, s.adapter, s.records),
		records:    controller.NewLearningRecordController(s.records),
		adminModel: controller.NewAdminModelController(s.export, repos.modelRec),
	}
}

func (a *App) setupMiddlewares(router *gin.Engine, cfg *config.Config) {
	router.Use(security.RequestID())
	router.Use(security.CORS(cfg.CORS.AllowedOrigins))
	router.Use(security.Secure())
	router.Use(security.RateLimiter(a.ctx, cfg.RateLimit.MaxRequests, time.Duration(cfg.RateLimit.WindowMinutes)*time.Minute))

	// 分布式追踪中间件
	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware())
	}

	router.Use(monitoring.MetricsMiddleware())
}

func (a *App) startBackgroundTasks(s *services) {
	go s.plans.RunMissedSweeper(a.ctx, missedSweepInterval)

	// 调度参数热更新
	a.RegisterConfigCallback(func(newCfg *config.Config) {
		s.settings.Update(newCfg.Scheduling)
		logger.Log.Info("Scheduling settings reloaded")
	})
	go func() {
		dir := a.Config.ConfigDir
		if dir == "" {
			dir = config.DefaultDir
		}
		err := configwatcher.WatchConfig(a.ctx, dir, func(newCfg *config.Config) {
			for _, cb := range a.configCallbacks {
				cb(newCfg)
			}
		})
		if err != nil {
			logger.Log.Warn("Config hot reload disabled", zap.Error(err))
		}
	}()
}

func NewApp(cfg *config.Config) *App {
	logger.InitLogger(cfg)
	defer logger.Log.Sync()

	logger.Log.Info("Logger initialized successfully")

	db, err := database.InitDB(&cfg.Database)
	if err != nil {
		logger.Log.Fatal("Failed to initialize database", zap.Error(err))
	}

	if cfg.ForceMigrate || cfg.Server.Mode != "release" {
		if err := database.AutoMigrate(db); err != nil {
			logger.Log.Fatal("Failed to migrate database", zap.Error(err))
		}
	}
	if cfg.MigrateOnly {
		return &App{Config: cfg, DB: db}
	}

	rdb, err := database.InitRedis(&cfg.Redis)
	if err != nil {
		// 模型缓存可以退化为进程内缓存，不阻止启动
		logger.Log.Warn("Redis unavailable, using in-process model cache", zap.Error(err))
		rdb = nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	app := &App{
		Config: cfg,
		DB:     db,
		Redis:  rdb,
		ctx:    ctx,
		cancel: cancel,
	}

	repos := app.initRepositories(db, rdb)
	services := app.initServices(repos, cfg)
	app.services = services
	controllers := app.initControllers(services, repos)

	// 监控初始化
	monitoring.Init()

	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}
	router := gin.Default()
	app.Router = router

	if cfg.Tracing.Enabled {
		tp, err := tracing.InitTracer("skillchain-scheduling", cfg.Tracing.CollectorEndpoint)
		if err != nil {
			logger.Log.Fatal("Failed to initialize tracing", zap.Error(err))
		}
		app.tracer = tp
	}

	app.setupMiddlewares(router, cfg)
	app.registerRoutes(router, controllers, cfg)

	app.startBackgroundTasks(services)

	return app
}

func (a *App) Run() {
	srv := &http.Server{
		Addr:    ":" + a.Config.Server.Port,
		Handler: a.Router,
	}

	// 启动服务器
	go func() {
		logger.Log.Info("Server running", zap.String("port", a.Config.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	// 等待中断信号优雅地关闭服务器（设置5秒的超时时间）
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Log.Info("Shutting down server...")

	// 停止后台任务
	a.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Log.Error("Server forced to shutdown", zap.Error(err))
	}

	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			logger.Log.Error("Failed to shutdown tracer provider", zap.Error(err))
		}
	}
	if a.Redis != nil {
		a.Redis.Close()
	}

	logger.Log.Info("Server exiting")
}
