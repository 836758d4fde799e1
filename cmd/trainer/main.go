package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/park285/runenkrieg/internal/builder"
	appcfg "github.com/park285/runenkrieg/internal/config"
	"github.com/park285/runenkrieg/internal/obslog"
	"github.com/park285/runenkrieg/internal/progress"
	"go.uber.org/zap"
)

const usage = `usage: trainer <command> [flags]

commands:
  chess-sim    simulate heuristic chess games (optionally write PGN)
  chess-train  simulate and fold games into the stored chess model
  rk-sim       simulate Runenkrieg rounds with the stored agents
  rk-train     simulate rounds and fold them into the stored card model
  serve        run the websocket task server
  export       write a stored model to a JSON file
  import       load a JSON file into the model store
  runs         list recent training runs
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	cmd, ok := commands[os.Args[1]]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}

	closeLog, err := obslog.InitFromEnv()
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = closeLog() }()
	logger := obslog.L()

	cfg, err := appcfg.Load()
	if err != nil {
		logger.Fatal("config error", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := builder.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("init error", zap.Error(err))
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.Warn("shutdown error", zap.Error(err))
		}
	}()

	env := &cmdEnv{cfg: cfg, deps: deps, logger: logger}
	if err := cmd(ctx, env, os.Args[2:]); err != nil {
		if errors.Is(err, progress.ErrCanceled) {
			logger.Info("interrupted")
			return
		}
		logger.Error("command failed", zap.String("command", os.Args[1]), zap.Error(err))
		_ = deps.Close()
		_ = closeLog()
		os.Exit(1)
	}
}
