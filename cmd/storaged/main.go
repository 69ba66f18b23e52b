// Command storaged runs one FastDFS-style storage node. It takes a
// single argument, the path to a storage.conf-style config file, and
// has no other flags: everything else about running the node lives in
// that file, the way the teacher's own daemons are configured.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	storaged "github.com/happyfish100/fastdfs-sub008"
	"github.com/happyfish100/fastdfs-sub008/internal/config"
	"github.com/happyfish100/fastdfs-sub008/internal/logging"
)

// drainTimeout bounds how long Run's shutdown path waits for in-flight
// connections and workers to finish after a signal, per spec.md's
// "process waits up to ~90s for workers to finish before force-exit".
const drainTimeout = 90 * time.Second

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s /path/to/storage.conf\n", os.Args[0])
		os.Exit(1)
	}

	cfg, err := config.Load(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "storaged: %v\n", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	_ = level.UnmarshalText([]byte(cfg.LogLevel))
	out := os.Stderr
	log := slog.New(logging.NewDefaultHandler(out, level, false))

	node, err := storaged.New(cfg, log)
	if err != nil {
		log.Error("failed to start storage node", "err", err)
		os.Exit(1)
	}
	defer node.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runErr := make(chan error, 1)
	go func() { runErr <- node.Run(ctx) }()

	select {
	case err := <-runErr:
		if err != nil && ctx.Err() == nil {
			log.Error("storage node exited", "err", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		log.Info("shutdown signal received, draining")
		select {
		case <-runErr:
		case <-time.After(drainTimeout):
			log.Warn("drain timeout exceeded, forcing exit")
		}
	}
}
