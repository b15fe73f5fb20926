// =============================================================================
// AgentSwarm 守护进程入口
// =============================================================================
// 运行协调核心的后台循环，并暴露 /health、/ready、/metrics
//
// 使用方法:
//
//	swarmd serve                                   # 启动服务
//	swarmd serve --config swarm.yaml               # 指定配置文件
//	swarmd serve --agents agents.yaml              # 启动时注册静态 agent
//	swarmd version                                 # 显示版本信息
//	swarmd health --addr http://localhost:9091     # 健康检查
// =============================================================================

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/agentswarm/config"
	"github.com/BaSui01/agentswarm/internal/metrics"
	"github.com/BaSui01/agentswarm/internal/server"
	"github.com/BaSui01/agentswarm/internal/telemetry"
	"github.com/BaSui01/agentswarm/swarm"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		if err := runServe(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "swarmd: %v\n", err)
			os.Exit(1)
		}
	case "version":
		printVersion()
	case "health":
		if err := runHealthCheck(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("OK")
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	agentsPath := fs.String("agents", "", "Path to a YAML file of agents registered at startup")
	if err := fs.Parse(args); err != nil {
		return err
	}

	loader := config.NewLoader().WithValidator((*config.Config).Validate)
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return err
	}

	logger, level := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	logger.Info("starting agentswarm",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := telemetry.Init(ctx, cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry, continuing without it", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	collector := metrics.NewCollector("agentswarm", logger)

	backend := NewHTTPBackend(cfg.Broker.AttemptTimeout, logger)
	sw, err := swarm.New(ctx, cfg.SwarmConfig(), backend, logger,
		swarm.WithMetrics(collector),
		swarm.WithTracerProvider(providers.TracerProvider()),
	)
	if err != nil {
		return fmt.Errorf("build swarm: %w", err)
	}
	defer func() {
		if err := sw.Close(); err != nil {
			logger.Warn("closing snapshot store failed", zap.Error(err))
		}
	}()

	recovered, err := sw.Recover(ctx)
	if err != nil {
		logger.Warn("snapshot recovery failed, starting empty", zap.Error(err))
	} else if recovered {
		logger.Info("state recovered from snapshot", zap.Int("agents", sw.Registry().Count()))
	}

	if *agentsPath != "" {
		n, err := seedAgents(ctx, sw.Registry(), *agentsPath)
		if err != nil {
			return fmt.Errorf("seed agents: %w", err)
		}
		logger.Info("static agents registered", zap.Int("count", n))
	}

	health := server.NewHealthHandler(Version, logger)
	health.RegisterCheck(server.CheckFunc{
		CheckName: "swarm",
		Fn: func(context.Context) error {
			if !sw.Running() {
				return errors.New("background loops not running")
			}
			return nil
		},
	})

	httpServer := server.NewManager(
		server.NewHandler(health, nil, collector, logger),
		server.Config{
			Addr:            cfg.Server.Addr(),
			ReadTimeout:     cfg.Server.ReadTimeout,
			WriteTimeout:    cfg.Server.WriteTimeout,
			IdleTimeout:     2 * cfg.Server.ReadTimeout,
			ShutdownTimeout: cfg.Server.ShutdownTimeout,
		},
		logger,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sw.Run(gctx) })
	g.Go(func() error { return httpServer.Run(gctx) })
	if *configPath != "" {
		reloader := config.NewReloader(loader, *configPath, cfg, config.WithReloadLogger(logger))
		reloader.OnReload(func(_, next *config.Config, _ []config.Change) {
			if lvl, err := zapcore.ParseLevel(next.Log.Level); err == nil {
				level.SetLevel(lvl)
			}
		})
		g.Go(func() error { return reloader.Run(gctx) })
	}

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("agentswarm stopped")
	return nil
}

// =============================================================================
// 🏥 健康检查命令
// =============================================================================

func runHealthCheck(args []string) error {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	addr := fs.String("addr", "http://localhost:9091", "Server address")
	path := fs.String("path", "/health", "Probe path (/health or /ready)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return probe(&http.Client{Timeout: 5 * time.Second}, *addr+*path)
}

func probe(client *http.Client, url string) error {
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion() {
	fmt.Printf("AgentSwarm %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`AgentSwarm - swarm coordination daemon

Usage:
  swarmd <command> [options]

Commands:
  serve     Start the daemon
  version   Show version information
  health    Probe a running daemon
  help      Show this help

Serve options:
  --config <path>   Path to config file (YAML)
  --agents <path>   Path to a YAML list of agents to register

Health options:
  --addr <url>      Daemon address (default: http://localhost:9091)
  --path <path>     Probe path (default: /health)

Environment variables override file values with the AGENTSWARM_ prefix,
for example AGENTSWARM_LOG_LEVEL=debug or AGENTSWARM_SNAPSHOT_BACKEND=redis.`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

// initLogger builds the process logger. The returned level can be changed
// at runtime by the config reloader.
func initLogger(cfg config.LogConfig) (*zap.Logger, zap.AtomicLevel) {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if lvl, err := zapcore.ParseLevel(cfg.Level); err == nil {
		level.SetLevel(lvl)
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	zapConfig := zap.Config{
		Level:             level,
		Development:       encoding == "console",
		Encoding:          encoding,
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}

	logger, err := zapConfig.Build()
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger, level
}
