package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/droverdev/drover/internal/config"
	"github.com/droverdev/drover/internal/jobstore"
	"github.com/droverdev/drover/internal/orchestrator"
	"github.com/droverdev/drover/internal/worker"
)

func main() {
	// 1. Load environment variables
	instanceName := os.Getenv("DROVER_INSTANCE_NAME")
	redisURL := os.Getenv("REDIS_URL")
	agentType := os.Getenv("DROVER_AGENT_TYPE")
	jobID := os.Getenv("DROVER_JOB_ID")

	if instanceName == "" || redisURL == "" {
		fmt.Fprintf(os.Stderr, "Error: DROVER_INSTANCE_NAME and REDIS_URL must be set\n")
		os.Exit(1)
	}
	if agentType == "" {
		agentType = "echo-worker"
	}

	// 2. Parse Redis URL
	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Invalid REDIS_URL: %v\n", err)
		os.Exit(1)
	}

	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()

	// 3. Verify Redis connectivity
	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: Redis not accessible: %v\n", err)
		os.Exit(1)
	}

	// 4. Load drover.yml configuration if provided
	cfg := config.Default()
	if path := os.Getenv("DROVER_CONFIG"); path != "" {
		cfg, err = config.Load(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: Failed to load config: %v\n", err)
			os.Exit(1)
		}
	}

	// 5. Create the engine and harness
	engine, err := orchestrator.NewEngine(rdb, instanceName, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to create engine: %v\n", err)
		os.Exit(1)
	}

	harness, err := worker.New(engine, cfg, agentType, jobID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to create worker: %v\n", err)
		os.Exit(1)
	}

	// Reference capability: echoes each item's input back as its output.
	harness.Handle("echo", func(ctx context.Context, item *jobstore.JobItem) (string, error) {
		return item.Input, nil
	})

	fmt.Printf("Worker starting for instance '%s' as agent type '%s'\n", instanceName, agentType)

	// 6. Setup graceful shutdown
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	// 7. Start worker in goroutine
	errCh := make(chan error, 1)
	go func() {
		errCh <- harness.Run(runCtx)
	}()

	// 8. Wait for shutdown signal or error
	select {
	case sig := <-sigCh:
		fmt.Printf("Received signal %v, shutting down gracefully...\n", sig)
		cancel()
		<-errCh
	case runErr := <-errCh:
		if runErr != nil {
			fmt.Fprintf(os.Stderr, "Worker error: %v\n", runErr)
			os.Exit(1)
		}
	}

	fmt.Println("Worker stopped")
}
