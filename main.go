package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"easyretouch/core"
	"easyretouch/logging"
	"easyretouch/shutdown"
)

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "version" || os.Args[1] == "--version") {
		fmt.Println(core.GetVersionInfo())
		return
	}

	// Service management commands (install, start, stop...)
	if HandleServiceCommand(os.Args) {
		return
	}

	// Under the Windows service manager the service runs run() itself.
	isService, err := RunAsService()
	if err != nil {
		fmt.Fprintf(os.Stderr, "service error: %v\n", err)
		os.Exit(core.ExitCodeError)
	}
	if isService {
		return
	}

	os.Exit(run(context.Background(), true))
}

// run starts the service and blocks until parent is cancelled or a signal
// arrives (when handleSignals is set). It returns the process exit code.
func run(parent context.Context, handleSignals bool) int {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		// Use fmt here since logger isn't initialized yet
		fmt.Printf("Note: .env file not loaded: %v\n", err)
	}

	cfg, err := core.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return core.ExitCodeFor(err)
	}

	logger, err := logging.NewLogger(logging.Options{
		Development: cfg.DevMode,
		FilePath:    cfg.LogFile,
		Level:       cfg.LogLevel,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return core.ExitCodeError
	}

	logger.Info("starting easyretouch",
		zap.String("version", core.Version),
		zap.String("commit", core.GitCommit),
		zap.String("db_path", cfg.DBPath),
		zap.Int("port", cfg.Port),
		zap.Bool("dev_mode", cfg.DevMode))

	shutdownMgr := shutdown.NewManager(logger)

	a, err := newApp(shutdownMgr.Context(), cfg, logger)
	if err != nil {
		logger.Error("startup failed", zap.Error(err))
		_ = logger.Sync()
		return core.ExitCodeFor(err)
	}
	a.registerShutdown(shutdownMgr)
	a.server.Use(shutdownMgr.Middleware)

	if handleSignals {
		shutdownMgr.Start()
	}
	go func() {
		select {
		case <-parent.Done():
			shutdownMgr.Trigger()
		case <-shutdownMgr.Context().Done():
		}
	}()

	errc := make(chan error, 1)
	go func() {
		errc <- a.serve(shutdownMgr.Context())
	}()

	var serveErr error
	select {
	case <-shutdownMgr.Context().Done():
	case serveErr = <-errc:
		shutdownMgr.Trigger()
	}

	shutdownErr := shutdownMgr.Shutdown()
	if serveErr == nil {
		serveErr = <-errc
	}

	switch {
	case serveErr != nil:
		fmt.Fprintf(os.Stderr, "server error: %v\n", serveErr)
		return core.ExitCodeError
	case shutdownErr != nil:
		fmt.Fprintf(os.Stderr, "shutdown error: %v\n", shutdownErr)
		return core.ExitCodeError
	}
	return shutdownMgr.ExitCode()
}
