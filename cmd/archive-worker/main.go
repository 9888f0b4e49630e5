// Command archive-worker consumes ingested-batch events from AMQP and writes
// each batch to S3.
package main

import (
	"context"
	"errors"
	"os"
	"time"

	"stablewatch/internal/amqp"
	"stablewatch/internal/cli"
	"stablewatch/internal/log"
	"stablewatch/internal/worker"
)

func main() {
	cli.LoadEnvFile()

	boot := cli.SetupLogger(nil, log.ComponentApp)
	cfg := cli.LoadAndValidateConfig(boot)
	logger := cli.SetupLogger(cfg, log.ComponentWorker)

	logger.Info("Starting archive-worker", log.FieldOperation, log.OpStartup)

	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required for the archive worker")
		os.Exit(1)
	}

	ctx, cancel := cli.SignalContext(logger)
	defer cancel()

	archiver, err := cli.NewArchiver(ctx, cfg, logger)
	if err != nil {
		logger.Error("Archive unavailable", log.FieldError, err.Error())
		os.Exit(1)
	}

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", log.FieldError, err.Error())
		os.Exit(1)
	}

	archiveWorker := worker.NewArchiveWorker(archiver, logger)

	logger.Info("Consuming ingested batches",
		"exchange", cfg.AMQPExchange,
		"queue", cfg.AMQPQueue,
		"bucket", cfg.S3Bucket)

	consumeErr := amqpClient.ConsumeTransactionsIngested(ctx, archiveWorker.HandleIngested)
	if consumeErr != nil && !errors.Is(consumeErr, context.Canceled) {
		logger.Error("Message consumption failed", log.FieldError, consumeErr.Error())
	}

	_ = cli.Shutdown(logger, 10*time.Second, func(context.Context) error {
		return amqpClient.Close()
	})

	if consumeErr != nil && !errors.Is(consumeErr, context.Canceled) {
		os.Exit(1)
	}
}
