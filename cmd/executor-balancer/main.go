package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/Oofersky/executor-balancer/internal/audit"
	"github.com/Oofersky/executor-balancer/internal/balancer"
	"github.com/Oofersky/executor-balancer/internal/config"
	"github.com/Oofersky/executor-balancer/internal/httpserver"
	"github.com/Oofersky/executor-balancer/internal/scoring"
	"github.com/Oofersky/executor-balancer/internal/stats"
	"github.com/Oofersky/executor-balancer/internal/store"
)

func main() {
	runStreamer := flag.Bool("run-streamer", false, "start the outcome event streamer")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load: %v", err)
	}

	var st store.Store
	if cfg.MemoryStore {
		st = store.NewMemoryStore()
		log.Printf("using in-memory store")
	} else {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("db open: %v", err)
		}
		defer db.Close()
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)
		if err := db.Ping(); err != nil {
			log.Fatalf("db ping: %v", err)
		}
		st = store.NewPGStore(db)
	}

	engine := scoring.NewEngine(scoring.DefaultWeights())
	svc := balancer.New(st, engine, nil)
	server := httpserver.New(st, svc, stats.NewCollector(st), stats.NewRegistry())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Seed {
		if err := seed(ctx, st); err != nil {
			log.Fatalf("seed: %v", err)
		}
		log.Printf("seeded demo executors, requests, and rules")
	}

	if *runStreamer || cfg.RunStreamer {
		producer, err := audit.NewKafkaProducer(audit.KafkaProducerConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
		})
		if err != nil {
			log.Fatalf("kafka producer init: %v", err)
		}
		var archiver audit.Archiver
		if cfg.ArchiveBucket != "" {
			s3Archiver, err := audit.NewS3Archiver(ctx, cfg.ArchiveBucket, cfg.ArchivePrefix)
			if err != nil {
				log.Fatalf("s3 archiver init: %v", err)
			}
			archiver = s3Archiver
			log.Printf("event archiver enabled (bucket=%s prefix=%s)", cfg.ArchiveBucket, cfg.ArchivePrefix)
		}
		streamer := audit.NewStreamer(st, producer, archiver, audit.StreamerConfig{
			BatchSize:      cfg.StreamBatchSize,
			PollInterval:   cfg.StreamInterval,
			MaxConcurrency: cfg.StreamConcurrency,
			MaxAttempts:    cfg.StreamAttempts,
		})
		go func() {
			if err := streamer.Run(ctx); err != nil && err != context.Canceled {
				log.Printf("[audit] streamer exited: %v", err)
			}
		}()
	}

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: server.Router(),
	}
	go func() {
		log.Printf("executor balancer listening on %s", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	waitForShutdown(cancel, httpServer)
}

func waitForShutdown(cancel context.CancelFunc, srv *http.Server) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	cancel()
	ctx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}
