package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"coscribe/config/database"
	"coscribe/internal/collab"
	"coscribe/pkg/logger"
	"coscribe/router"
	"coscribe/store"
)

func main() {
	logger.Init()
	defer logger.Log.Sync()

	if err := godotenv.Load(); err != nil {
		logger.Sugar.Info("No .env file found, using environment variables from OS")
	}

	db := database.Connect()
	defer db.Close()

	pg := store.NewPostgres(db)

	registry := collab.NewRegistry(envDuration("CHANNEL_GRACE", 10*time.Second))
	presence := collab.NewTracker(registry, envDuration("PRESENCE_TIMEOUT", 30*time.Second))
	authority := collab.NewAuthority(pg, pg)
	history := collab.NewRecorder(pg)
	coord := collab.NewCoordinator(pg, authority, presence, registry, history)
	presence.Start()
	defer presence.Stop()

	// Optional cross-process fan-out: set REDIS_ADDR when running more than
	// one instance so presence and content events reach every process.
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		client := redis.NewClient(&redis.Options{Addr: addr})
		fanout, err := collab.NewRedisFanout(context.Background(), client, registry, presence)
		if err != nil {
			logger.Sugar.Fatalf("Failed to connect fan-out to redis at %s: %v", addr, err)
		}
		defer fanout.Close()
		logger.Sugar.Infof("Redis fan-out enabled via %s", addr)
	}

	srv := router.Setup(coord, pg)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	logger.Sugar.Infof("coscribe listening on :%s", port)
	if err := http.ListenAndServe(":"+port, srv); err != nil {
		logger.Sugar.Fatalf("Server exited: %v", err)
	}
}

func envDuration(key string, def time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		logger.Sugar.Warnf("Invalid %s=%q, using default %s", key, raw, def)
		return def
	}
	return d
}
