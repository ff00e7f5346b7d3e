package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	log "github.com/sirupsen/logrus"

	"taskboard/notify"
	"taskboard/storage"
)

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}
	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	tasksTableName := os.Getenv("TASKS_TABLE")
	notifyQueueName := os.Getenv("NOTIFY_QUEUE")
	if connStr == "" || tasksTableName == "" || notifyQueueName == "" {
		log.Fatal("missing storage config")
	}
	store, err := storage.New(connStr, tasksTableName, notifyQueueName)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	cfgPath := os.Getenv("NOTIFY_CONFIG")
	if cfgPath == "" {
		cfgPath = "notify.toml"
	}
	cfg, err := notify.LoadConfig(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := log.New()
	relay := notify.NewRelay(store, cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("notification relay started")
	relay.Run(ctx)
	logger.Info("notification relay stopped")
}
