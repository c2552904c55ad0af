package pipeline

import (
	"context"

	"github.com/hibiken/asynq"

	cfg "github.com/docstream/docproc/config"
	"github.com/docstream/docproc/pkg/logger"
)

// WorkerConfig tunes the stage-processing server.
type WorkerConfig struct {
	Concurrency int
	Queues      map[string]int
}

// Worker runs the asynq server with every stage handler registered.
type Worker struct {
	server   *asynq.Server
	mux      *asynq.ServeMux
	logger   logger.Logger
	stopChan chan struct{}
}

func NewWorker(wcfg *WorkerConfig, p *Pipeline, log logger.Logger) *Worker {
	rc := cfg.GetRedisConfig()
	redisOpt := asynq.RedisClientOpt{
		Addr:     rc.Addr,
		Password: rc.Password,
		DB:       rc.DB,
	}

	queues := wcfg.Queues
	if len(queues) == 0 {
		queues = map[string]int{"default": 1}
	}

	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: wcfg.Concurrency,
		Queues:      queues,
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskTypeIngest, p.HandleIngest)
	mux.HandleFunc(TaskTypeOCR, p.HandleOCR)
	mux.HandleFunc(TaskTypeAggregate, p.HandleAggregate)
	mux.HandleFunc(TaskTypeLLM, p.HandleLLM)
	mux.HandleFunc(TaskTypePII, p.HandlePII)
	mux.HandleFunc(TaskTypeZip, p.HandleZip)

	return &Worker{
		server:   server,
		mux:      mux,
		logger:   log,
		stopChan: make(chan struct{}),
	}
}

// Start launches the server in the background.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting pipeline worker")

	if err := w.server.Start(w.mux); err != nil {
		return err
	}

	go func() {
		select {
		case <-ctx.Done():
			w.server.Stop()
		case <-w.stopChan:
		}
	}()
	return nil
}

// Stop shuts the server down gracefully.
func (w *Worker) Stop() error {
	close(w.stopChan)
	w.server.Stop()
	w.server.Shutdown()
	return nil
}
