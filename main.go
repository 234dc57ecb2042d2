package main

import (
	"context"
	"log"

	"StoryboardStudio-server/config"
	"StoryboardStudio-server/gemini"
	"StoryboardStudio-server/logger"
	"StoryboardStudio-server/models"
	"StoryboardStudio-server/routers"
	"StoryboardStudio-server/routers/api"
	"StoryboardStudio-server/service"

	"github.com/hibiken/asynq"
)

func main() {
	config.InitConfig("config/config.yaml")
	cfg := config.AppConfig

	if err := logger.Init(logger.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	}); err != nil {
		log.Fatalf("日志初始化失败: %v", err)
	}
	mainLog := logger.Get("main")
	ctx := context.Background()

	var slots service.SlotStore
	switch cfg.Storage.Backend {
	case config.StorageBackendMySQL:
		db, err := models.InitDB(cfg.MySQL.DSN)
		if err != nil {
			mainLog.Fatalf("数据库初始化失败: %v", err)
		}
		slots = models.NewGormSlotStore(db, cfg.Storage.QuotaBytes)
		mainLog.Info("Database initialized")
	default:
		slots = service.NewMemorySlotStore(cfg.Storage.QuotaBytes)
	}

	var artifacts service.ArtifactStore = service.InlineArtifactStore{}
	if cfg.Storage.Artifacts == config.ArtifactsMinIO {
		m, err := service.NewMinIOArtifactStore(service.MinIOOptions{
			Endpoint:  cfg.MinIO.Endpoint,
			AccessKey: cfg.MinIO.AccessKey,
			SecretKey: cfg.MinIO.SecretKey,
			Bucket:    cfg.MinIO.Bucket,
			UseSSL:    cfg.MinIO.UseSSL,
			URLExpiry: cfg.MinIO.URLExpiry,
		})
		if err != nil {
			mainLog.Fatalf("%v", err)
		}
		artifacts = m
		mainLog.Info("MinIO initialized")
	}

	gen, err := gemini.New(ctx, gemini.Options{
		APIKey:          cfg.Gemini.APIKey,
		Endpoint:        cfg.Gemini.Endpoint,
		TextModel:       cfg.Gemini.TextModel,
		ImageModel:      cfg.Gemini.ImageModel,
		ProImageModel:   cfg.Gemini.ProImageModel,
		VideoModel:      cfg.Gemini.VideoModel,
		ChatModel:       cfg.Gemini.ChatModel,
		RequestTimeout:  cfg.Gemini.RequestTimeout,
		PollInterval:    cfg.Gemini.PollInterval,
		PollMaxAttempts: cfg.Gemini.PollMaxAttempts,
	})
	if err != nil {
		mainLog.Fatalf("生成服务初始化失败: %v", err)
	}
	if cfg.Gemini.APIKey == "" {
		mainLog.Warn("未配置 GEMINI_API_KEY，可通过 PUT /v1/api/auth/key 设置")
	}

	store := service.NewStore(slots)
	store.LoadAll(ctx)

	events := service.NewBroadcaster()
	ctrl := service.NewController(store, gen, artifacts,
		service.WithEvents(events),
		service.WithFeatures(service.Features{
			ItemLibrary: cfg.Features.ItemLibrary,
			GlobalVault: cfg.Features.GlobalVault,
		}),
	)

	if cfg.Dispatch.Mode == config.DispatchQueue {
		redisOpt := asynq.RedisClientOpt{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password}
		dispatcher := service.NewQueueDispatcher(redisOpt, 0)
		defer dispatcher.Close()
		ctrl.UseDispatcher(dispatcher)
		mainLog.Info("Queue initialized")

		processor := service.NewProcessor(ctrl)
		processor.StartProcessor(redisOpt, cfg.Dispatch.Concurrency)
		defer processor.Shutdown()
	}

	api.Init(ctrl, events)
	r := routers.InitRouter(cfg.Server.AllowOrigins)
	mainLog.Infof("Server starting on port %s", cfg.Server.Port)
	if err := r.Run(cfg.Server.Port); err != nil {
		mainLog.Errorf("server stopped: %v", err)
	}
}
