package main

import (
	"flag"
	"log"
	"skillchain_backend/internal/app"
	"skillchain_backend/internal/config"
	"skillchain_backend/pkg/logger"
)

func main() {
	// 命令行参数
	migrateOnly := flag.Bool("migrate-only", false, "只执行数据库迁移，完成后退出")
	migrate := flag.Bool("migrate", false, "启动时强制执行数据库迁移（即使是 release 模式）")
	configDir := flag.String("config", config.DefaultDir, "配置文件目录")
	checkConfig := flag.Bool("check-config", false, "只校验配置文件，完成后退出")
	flag.Parse()

	cfg, err := config.LoadConfig(*configDir)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if *checkConfig {
		s := cfg.Scheduling
		log.Printf("配置校验通过: mode=%s db=%s storage=%s redis=%t",
			cfg.Server.Mode, cfg.Database.Driver, cfg.Storage.Type, cfg.Redis.Enabled)
		log.Printf("调度参数: minTrainingRows=%d trustedHistoryRows=%d weeklyHours=%.1f passingScore=%d",
			s.MinTrainingRows, s.TrustedHistoryRows, s.DefaultWeeklyHours, s.DefaultPassingScore)
		return
	}

	// 设置迁移标志
	cfg.ForceMigrate = *migrate || *migrateOnly
	cfg.MigrateOnly = *migrateOnly

	application := app.NewApp(cfg)
	defer logger.Log.Sync()

	// 迁移完成后直接退出
	if *migrateOnly {
		log.Println("数据库迁移完成，退出程序")
		return
	}

	application.Run()
}
