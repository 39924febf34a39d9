package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/olenive/petrivelte/compute/machineapi"
	"github.com/olenive/petrivelte/config"
	"github.com/olenive/petrivelte/events"
	"github.com/olenive/petrivelte/health"
	"github.com/olenive/petrivelte/livestate"
	"github.com/olenive/petrivelte/messaging"
	"github.com/olenive/petrivelte/store"
	"github.com/olenive/petrivelte/www"
)

var Version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "petrivelte.yaml", "path to config file")
	flag.Parse()

	if *showVersion {
		fmt.Println("petrivelte", Version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	// Database
	db, err := store.Open(&cfg.Database)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()
	log.Printf("petrivelte: database open (%s)", cfg.Database.Driver)

	// Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Printf("petrivelte: redis not available (%v), reads will hit SQL", err)
	} else {
		log.Printf("petrivelte: redis connected (%s)", cfg.Redis.Address)
	}
	cancel()
	defer redisClient.Close()

	// Live state cache
	live := livestate.NewManager(db, livestate.NewRedisStore(redisClient))
	if err := live.SyncFromSQL(); err != nil {
		log.Printf("petrivelte: redis sync from SQL: %v", err)
	}

	// Compute adapter
	adapter := machineapi.New(cfg.Compute.BaseURL, cfg.Compute.Timeout)
	log.Printf("petrivelte: compute adapter %s (%s)", adapter.Name(), cfg.Compute.BaseURL)

	// Messaging client
	msgClient := messaging.NewClient(&cfg.Events)
	if err := msgClient.Connect(); err != nil {
		log.Printf("petrivelte: messaging connect failed (%v)", err)
	} else {
		log.Printf("petrivelte: messaging connected (kafka)")
	}
	defer msgClient.Close()

	// Publisher and outbox drainer
	pub := events.NewPublisher(db, cfg.Events.Topic)
	drainer := events.NewDrainer(db, msgClient, cfg.Events.DrainInterval)
	pub.OnCommit(func(batch []events.Event) {
		live.ApplyEvents(batch)
		drainer.Kick()
	})
	drainer.Start()
	defer drainer.Stop()

	// Shared event listener: the one subscription this process holds.
	listener := events.NewListener(cfg.Events.QueueSize)
	if err := listener.Start(msgClient, cfg.Events.Topic); err != nil {
		log.Printf("petrivelte: event listener subscribe failed: %v", err)
	} else {
		log.Printf("petrivelte: event listener on %s", cfg.Events.Topic)
	}
	defer listener.Stop()

	// Health check scheduler
	scheduler := health.NewScheduler(db, adapter, pub, cfg.Health, nil)
	scheduler.Start()
	defer scheduler.Stop()

	// Web server
	handler := www.NewRouter(cfg, www.Deps{
		DB:       db,
		Live:     live,
		Pub:      pub,
		Listener: listener,
		Health:   scheduler,
		Adapter:  adapter,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	go func() {
		log.Printf("petrivelte: web server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("web server: %v", err)
		}
	}()

	log.Printf("petrivelte: ready")

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Printf("petrivelte: shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)

	log.Printf("petrivelte: stopped")
}
