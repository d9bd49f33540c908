package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/aiclients"
	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/api"
	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/auth"
	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/checklist"
	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/config"
	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/dedup"
	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/events"
	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/health"
	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/metrics"
	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/middleware"
	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/orchestrator"
	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/ratelimit"
	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/reconcile"
	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/reportstore"
	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/tokens"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db open error: %v", err)
	}
	if err := db.Ping(); err != nil {
		log.Fatalf("db ping error: %v", err)
	}
	defer db.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	pub := events.Connect(cfg.NatsURL)
	defer pub.Close()

	tokenMgr := tokens.NewManager(cfg.JWTSecret)
	blacklist := auth.NewRedisBlacklist(rdb)
	jwtAuth := middleware.NewJWTAuth(tokenMgr, blacklist)
	rateLimiter := middleware.NewRateLimiter(rdb, middleware.RateLimitConfig{
		Rate:       120,
		Window:     time.Minute,
		FailClosed: false,
	})
	authHandler := api.NewAuthHandler(cfg.Clients, tokenMgr, blacklist)

	// AI client stack: one shared rate limiter and usage tracker behind a
	// per-provider Transport/Envelope pair, matching the reference repo's
	// one-limiter-many-consumers wiring in cmd/server/main.go.
	limiter := ratelimit.NewLimiter(rdb)
	usage := aiclients.NewUsageTracker()
	retry := aiclients.DefaultRetryConfig()

	visionTransport := aiclients.NewTransport(cfg.Vision.BaseURL, cfg.Vision.APIKey, cfg.Vision.Timeout)
	visionEnvelope := aiclients.NewEnvelope(limiter, retry, usage)
	visionClient := aiclients.NewVisionClient(visionTransport, visionEnvelope, cfg.Vision.Model, cfg.Vision.EvalModel, cfg.RateLimits["vision"])

	speechTransport := aiclients.NewTransport(cfg.Speech.BaseURL, cfg.Speech.APIKey, cfg.Speech.Timeout)
	speechEnvelope := aiclients.NewEnvelope(limiter, retry, usage)
	speechClient := aiclients.NewSpeechClient(speechTransport, speechEnvelope, cfg.Speech.Model, cfg.RateLimits["speech"])

	remoteGPUTransport := aiclients.NewTransport(cfg.RemoteGPU.BaseURL, cfg.RemoteGPU.APIKey, cfg.RemoteGPU.Timeout)
	remoteGPUEnvelope := aiclients.NewEnvelope(limiter, retry, usage)
	remoteGPUClient := aiclients.NewRemoteGPUClient(remoteGPUTransport, remoteGPUEnvelope, cfg.RemoteGPU.Model, cfg.RateLimits["remote_gpu"])

	registry := aiclients.NewDefaultRegistry(visionClient, remoteGPUClient)

	tracker := checklist.New("data/checklist_state.json")
	reconciler := reconcile.New(tracker)

	orch := orchestrator.New(visionClient, speechClient, registry, reconciler, cfg.DetectCfg, cfg.KeyframeDir)
	orch.FrameDedup = dedup.New(cfg.DedupMaxKeys, cfg.DedupTTL)

	store := reportstore.NewService(db)
	reportstore.ConfigureFailover(cfg.ReportSpoolDir, 1024)
	replayCtx, cancelReplay := context.WithCancel(context.Background())
	defer cancelReplay()
	store.StartReplayer(replayCtx, time.Minute)

	prober := health.NewHTTPProber()
	healthSvc := health.NewService(prober)
	healthScheduler := health.NewScheduler(health.SchedulerConfig{
		Targets: []health.Target{
			{Name: "vision", BaseURL: cfg.Vision.BaseURL},
			{Name: "speech", BaseURL: cfg.Speech.BaseURL},
			{Name: "remote_gpu", BaseURL: cfg.RemoteGPU.BaseURL},
		},
	}, healthSvc)
	healthScheduler.Start()
	defer healthScheduler.Stop()
	metrics.SetServiceUp(true)

	analyzeHandler := api.NewAnalyzeHandler(orch, tracker, store, pub)
	router := api.NewRouter(analyzeHandler, authHandler, jwtAuth, rateLimiter)

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	go func() {
		log.Printf("compliance-api listening on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown error: %v", err)
	}
	log.Println("compliance-api stopped")
}
