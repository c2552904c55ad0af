package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/docstream/docproc/internal/pipeline"
	"github.com/docstream/docproc/pkg/logger"
)

func main() {
	log, err := logger.NewLogger(
		logger.WithLevel("info"),
		logger.WithEncoding("json"),
		logger.WithOutputPaths([]string{"stdout", "logs/worker.log"}),
	)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := pipeline.Build(ctx, log)
	if err != nil {
		log.Error("Failed to build pipeline", logger.Error(err))
		os.Exit(1)
	}

	worker := pipeline.NewWorker(&pipeline.WorkerConfig{
		Concurrency: 10,
		Queues:      map[string]int{"default": 1},
	}, rt.Pipeline, log)

	if err := worker.Start(ctx); err != nil {
		log.Error("Failed to start worker", logger.Error(err))
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down worker...")
	worker.Stop()
	log.Info("Worker stopped")
}
