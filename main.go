package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"coalition/builder/internal/api"
	"coalition/builder/internal/cache"
	"coalition/builder/internal/config"
	"coalition/builder/internal/db"
	"coalition/builder/internal/email"
	"coalition/builder/internal/geocode"
	"coalition/builder/internal/services"
	"coalition/builder/internal/tasks"
)

var runMode = flag.String("m", "all", "Run mode: 'api', 'bg' (background tasks), 'all' (default)")

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*runMode)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize Database
	mongoClient, mongoDb, err := db.ConnectDB(cfg.MongoURI, cfg.MongoDbName)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() {
		if err := db.DisconnectDB(mongoClient); err != nil {
			log.Printf("Error disconnecting from MongoDB: %v", err)
		}
	}()

	ctxIdx, cancelIdx := context.WithTimeout(context.Background(), 15*time.Second)
	if err := db.EnsureIndexes(ctxIdx, mongoDb); err != nil {
		cancelIdx()
		log.Fatalf("Failed to create indexes: %v", err)
	}
	cancelIdx()

	// Initialize Cache (Redis)
	redisClient, err := cache.ConnectRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer func() {
		if err := cache.DisconnectRedis(redisClient); err != nil {
			log.Printf("Error disconnecting from Redis: %v", err)
		}
	}()

	taskClient := tasks.NewClient(redisClient)
	defer taskClient.Close()
	dispatcher := tasks.NewDispatcher(taskClient)

	var wg sync.WaitGroup
	shutdown := make(chan struct{})

	// API server
	var apiServer *http.Server
	if cfg.RunMode == "api" || cfg.RunMode == "all" {
		rateLimitService := services.NewRateLimitService(redisClient, cfg.EnvPrefix)
		router := api.SetupRouter(cfg, api.Deps{
			DB:         mongoDb,
			RateLimit:  rateLimitService,
			Dispatcher: dispatcher,
		})

		apiServer = &http.Server{
			Addr:    ":" + cfg.ApiPort,
			Handler: router,
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Printf("API server listening on port %s", cfg.ApiPort)
			if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("API server error: %v", err)
			}
		}()
	}

	// Background task server
	if cfg.RunMode == "bg" || cfg.RunMode == "all" {
		var emailSender email.Sender
		if cfg.MockServices {
			log.Println("MOCK_SERVICES enabled: delivering email to Redis")
			emailSender = email.NewRedisSender(redisClient, cfg)
		} else {
			emailSender = email.NewSMTPSender(cfg)
		}
		geocoder := geocode.NewHTTPGeocoder(cfg)
		stakeholderService := services.NewStakeholderService(mongoDb, dispatcher)
		processor := tasks.NewTaskProcessor(cfg, emailSender, geocoder, stakeholderService)
		srv := tasks.NewServer(redisClient)

		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Println("Background task server starting")
			if err := srv.Run(processor.Mux()); err != nil {
				log.Printf("Task server error: %v", err)
			}
		}()

		go func() {
			<-shutdown
			srv.Shutdown()
		}()
	}

	// Wait for interrupt
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Println("Shutdown signal received")
	close(shutdown)

	if apiServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := apiServer.Shutdown(ctx); err != nil {
			log.Printf("API server shutdown error: %v", err)
		}
		cancel()
	}

	wg.Wait()
	log.Println("Shutdown complete")
}
