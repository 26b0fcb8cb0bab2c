package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jcallahan/palaver/internal/config"
	"github.com/jcallahan/palaver/internal/server"
	"github.com/jcallahan/palaver/internal/store"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	cfg.ApplyEnv()

	opts := []server.Option{
		server.WithHistoryLimit(cfg.HistoryLimit),
		server.WithRegisterRateLimit(cfg.RegisterLimit, time.Duration(cfg.RegisterWindow)),
	}
	if cfg.MaxConns > 0 {
		opts = append(opts, server.WithMaxConns(cfg.MaxConns))
	}
	if cfg.IdleTimeout > 0 {
		opts = append(opts, server.WithIdleTimeout(time.Duration(cfg.IdleTimeout)))
	}

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("Failed to connect to Redis at %s: %v", cfg.RedisAddr, err)
		}
		log.Printf("Connected to Redis at %s", cfg.RedisAddr)
		opts = append(opts, server.WithStore(store.NewRedisStore(rdb)))
	}

	srv := server.New(cfg.ListenAddr, opts...)
	log.Printf("Starting chat server on %s", cfg.ListenAddr)
	if err := srv.Run(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
