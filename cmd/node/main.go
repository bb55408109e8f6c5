package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"ringcmh/internal/bootstrap"
	"ringcmh/internal/config"
	"ringcmh/internal/controlapi"
	"ringcmh/internal/core"
	"ringcmh/internal/logger"
	zapfactory "ringcmh/internal/logger/zap"
	"ringcmh/internal/rpcclient"
	"ringcmh/internal/rpcserver"
	"ringcmh/internal/telemetry"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "node <ip> <port>",
		Short: "Run a ringcmh node",
		Args:  cobra.ExactArgs(2),
		RunE:  run,
	}
	root.Flags().StringVar(&configPath, "config", "", "path to an optional YAML configuration file")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	ip := args[0]
	port, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid port %q: %w", args[1], err)
	}

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration from %q: %w", configPath, err)
		}
		cfg = loaded
	}
	cfg.ApplyEnvOverrides()
	if err := cfg.ValidateConfig(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	var lgr logger.Logger
	if cfg.Logger.Active {
		zapLog, err := zapfactory.New(cfg.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		defer func() { _ = zapLog.Sync() }()
		lgr = zapfactory.NewZapAdapter(zapLog)
	} else {
		lgr = logger.NopLogger{}
	}
	cfg.LogConfig(lgr)

	addr := net.JoinHostPort(ip, strconv.Itoa(port))

	shutdownTracer := telemetry.Init(cfg.Telemetry, "ringcmh-node", addr)
	defer func() { _ = shutdownTracer(context.Background()) }()

	pool := rpcclient.New(addr, cfg.RPC.DialTimeout, cfg.RPC.CallTimeout, lgr.Named("rpcclient"))
	defer pool.CloseAll()

	node := core.New(addr, port, pool, lgr)
	pool.SetClockFn(node.SendTick)
	node.SetDelay(time.Duration(cfg.RPC.DefaultDelayMs) * time.Millisecond)

	srv := rpcserver.New(node, lgr)
	if err := srv.Listen(addr); err != nil {
		return fmt.Errorf("failed to bind RPC listener on %s: %w", addr, err)
	}
	lgr.Info("rpc listener bound", logger.FAddr("addr", addr))

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(context.Background()) }()

	api := controlapi.New(node, cfg.ControlAPI.Bind, lgr)
	apiErr := make(chan error, 1)
	go func() { apiErr <- api.ListenAndServe() }()
	lgr.Info("control api listening", logger.FAddr("bind", cfg.ControlAPI.Bind))

	discoverer, err := bootstrap.New(cfg.Bootstrap)
	if err != nil {
		return fmt.Errorf("failed to initialize bootstrap: %w", err)
	}
	bootstrapCtx, bootstrapCancel := context.WithTimeout(context.Background(), 10*time.Second)
	peers, err := discoverer.Discover(bootstrapCtx)
	bootstrapCancel()
	if err != nil {
		lgr.Warn("bootstrap discovery failed", logger.F("err", err.Error()))
	} else if len(peers) > 0 {
		joinCtx, joinCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := node.Join(joinCtx, peers[0]); err != nil {
			lgr.Warn("failed to join discovered peer", logger.FAddr("peer", peers[0]), logger.F("err", err.Error()))
		} else {
			lgr.Info("joined ring via bootstrap", logger.FAddr("peer", peers[0]))
		}
		joinCancel()
	} else {
		lgr.Info("no bootstrap peers found, starting a singleton ring")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		lgr.Info("shutdown signal received, stopping gracefully")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		done := make(chan struct{})
		go func() {
			_ = api.Shutdown(shutdownCtx)
			_ = srv.Close()
			close(done)
		}()
		select {
		case <-done:
			lgr.Info("stopped gracefully")
		case <-shutdownCtx.Done():
			lgr.Warn("graceful stop timed out, forcing shutdown")
		}

	case err := <-serveErr:
		lgr.Error("rpc server terminated unexpectedly", logger.F("err", err.Error()))
		return err
	case err := <-apiErr:
		lgr.Error("control api terminated unexpectedly", logger.F("err", err.Error()))
		return err
	}
	return nil
}
