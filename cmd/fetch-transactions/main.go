// Command fetch-transactions runs a single fetch of the latest token transfers,
// scores and stores them, and archives the batch to S3 when a bucket is set.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"time"

	"stablewatch/internal/cli"
	"stablewatch/internal/detect"
	"stablewatch/internal/log"
	"stablewatch/internal/services"
	"stablewatch/internal/worker"
)

func main() {
	skipArchive := flag.Bool("skip-archive", false, "do not upload the fetched batch to S3")
	timeout := flag.Duration("timeout", 2*time.Minute, "overall deadline for the run")
	flag.Parse()

	cli.LoadEnvFile()

	boot := cli.SetupLogger(nil, log.ComponentApp)
	cfg := cli.LoadAndValidateConfig(boot)
	logger := cli.SetupLogger(cfg, log.ComponentIngest)

	sigCtx, cancel := cli.SignalContext(logger)
	defer cancel()
	ctx, cancelRun := context.WithTimeout(sigCtx, *timeout)
	defer cancelRun()

	chainClient, err := cli.NewChainClient(cfg, logger)
	if err != nil {
		logger.Error("Chain client unavailable", log.FieldError, err.Error())
		os.Exit(1)
	}

	be := cli.InitBackend(ctx, logger, cfg)
	svc := services.NewTransactionService(be.Backend, detect.New(cfg.AnomalyContamination), be.Publisher, nil, logger)
	defer svc.Close()

	res, err := worker.NewPollWorker(chainClient, svc, cfg.PollInterval, logger).PollOnce(ctx)
	if err != nil {
		logger.Error("Fetch failed", log.FieldError, err.Error(), log.FieldOperation, log.OpFetch)
		svc.Close()
		os.Exit(1)
	}
	logger.Info("Fetch complete",
		log.FieldBatchID, res.BatchID,
		log.FieldFetched, res.Received,
		log.FieldInserted, res.Inserted,
		log.FieldAnomalies, res.Anomalies)

	if *skipArchive || len(res.Transactions) == 0 {
		return
	}

	archiver, err := cli.NewArchiver(ctx, cfg, logger)
	if errors.Is(err, cli.ErrArchiveDisabled) {
		logger.Info("Skipping archive", "reason", err.Error())
		return
	}
	if err != nil {
		logger.Error("Archive unavailable", log.FieldError, err.Error())
		svc.Close()
		os.Exit(1)
	}

	key, err := archiver.Store(ctx, res.Transactions)
	if err != nil {
		logger.Error("Archive failed", log.FieldError, err.Error(), log.FieldOperation, log.OpArchive)
		svc.Close()
		os.Exit(1)
	}
	logger.Info("Batch archived", log.FieldArchiveKey, key, log.FieldBatchID, res.BatchID)
}
