// ABOUTME: Standalone worker that executes function-strategy capabilities
// ABOUTME: Usage: mcp-worker [-redis localhost:6379] [-prefix mcp:bus:]

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/systempromptio/mcp-gateway/internal/bus"
	"github.com/systempromptio/mcp-gateway/internal/worker"
)

func main() {
	redisAddr := flag.String("redis", "localhost:6379", "Redis address")
	keyPrefix := flag.String("prefix", "", "Bus channel prefix")
	logLevel := flag.String("log-level", "info", "Log level (debug/info/warn/error)")
	flag.Parse()

	if err := run(*redisAddr, *keyPrefix, *logLevel); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(redisAddr, keyPrefix, logLevel string) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Workers only make sense across processes, so the bus is always Redis.
	b := bus.NewRedisBus(bus.RedisConfig{
		Addr:      redisAddr,
		KeyPrefix: keyPrefix,
	})
	defer b.Close()

	w := worker.New(worker.Config{Bus: b, Logger: logger})
	worker.RegisterBuiltins(w)

	logger.Info("mcp-worker starting", "redis", redisAddr, "handlers", w.Handlers())
	return w.Run(ctx)
}
