package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	cmd "github.com/ord-network/emitter/cmd/emitter/services"
	"github.com/ord-network/emitter/config"
	"github.com/ord-network/emitter/internal/logger"
	"github.com/ord-network/emitter/internal/version"
)

func main() {
	err := run()
	if err != nil {
		log.Fatalf("failed to run emitter: %v", err)
	}

	os.Exit(0)
}

func run() error {
	configDir, startEmitter, startAPI := parseFlags()

	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("failed to load app config: %w", err)
	}

	appLogger, err := logger.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return fmt.Errorf("failed to create logger: %v", err)
	}

	hostname, err := os.Hostname()
	if err != nil {
		return fmt.Errorf("failed to get host name: %v", err)
	}

	appLogger = appLogger.With(slog.String("host", hostname))

	appLogger.Info("Starting emitter", slog.String("version", version.Version), slog.String("commit", version.Commit))

	shutdownFns := make([]func(), 0)

	go func() {
		if cfg.ProfilerAddr != "" {
			appLogger.Info(fmt.Sprintf("Starting profiler on http://%s/debug/pprof", cfg.ProfilerAddr))

			err := http.ListenAndServe(cfg.ProfilerAddr, nil)
			if err != nil {
				appLogger.Error("failed to start profiler server", slog.String("err", err.Error()))
			}
		}
	}()

	go func() {
		if cfg.PrometheusAddr != "" {
			appLogger.Info("Starting prometheus", slog.String("addr", cfg.PrometheusAddr))
			http.Handle("/metrics", promhttp.Handler())
			err := http.ListenAndServe(cfg.PrometheusAddr, nil)
			if err != nil {
				appLogger.Error("failed to start prometheus server", slog.String("err", err.Error()))
			}
		}
	}()

	if !isAnyFlagPassed("emitter", "api") {
		appLogger.Info("No service selected, starting all")
		startEmitter = true
		startAPI = true
	}

	app := cmd.NewApp(appLogger, cfg)

	if startEmitter {
		appLogger.Info("Starting emission service")
		shutdown, err := app.StartEmitter()
		if err != nil {
			return fmt.Errorf("failed to start emission service: %v", err)
		}
		shutdownFns = append(shutdownFns, shutdown)
	}

	if startAPI {
		appLogger.Info("Starting API")
		shutdown, err := app.StartAPIServer()
		if err != nil {
			return fmt.Errorf("failed to start api: %v", err)
		}
		shutdownFns = append(shutdownFns, shutdown)
	}

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGTERM, syscall.SIGINT)

	sig := <-signalChan
	appLogger.Info("Received shutdown signal", slog.String("reason", sig.String()))

	appCleanup(appLogger, shutdownFns)

	return nil
}

func appCleanup(logger *slog.Logger, shutdownFns []func()) {
	logger.Info("cleaning up")
	for _, fn := range shutdownFns {
		fn()
	}
}

func parseFlags() (string, bool, bool) {
	startEmitter := flag.Bool("emitter", false, "start emission service")
	startAPI := flag.Bool("api", false, "start status API server")
	configDir := flag.String("config", "", "path to configuration file")
	help := flag.Bool("help", false, "Show help")

	flag.Parse()

	if *help {
		fmt.Println("usage: main [options]")
		fmt.Println("where options are:")
		fmt.Println("")
		fmt.Println("    -emitter=<true|false>")
		fmt.Println("          whether to start the emission service (default=true)")
		fmt.Println("")
		fmt.Println("    -api=<true|false>")
		fmt.Println("          whether to start the status API server (default=true)")
		fmt.Println("")
		fmt.Println("    -config=/location")
		fmt.Println("          directory to look for config (default='')")
		fmt.Println("")
		os.Exit(0)
	}

	return *configDir, *startEmitter, *startAPI
}

func isAnyFlagPassed(flags ...string) bool {
	for _, name := range flags {
		found := false
		flag.Visit(func(f *flag.Flag) {
			if f.Name == name {
				found = true
			}
		})
		if found {
			return true
		}
	}
	return false
}
