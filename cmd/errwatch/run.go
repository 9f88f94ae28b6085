package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/eliteGoblin/focusd/errwatch/internal/config"
	"github.com/eliteGoblin/focusd/errwatch/internal/daemon"
	"github.com/eliteGoblin/focusd/errwatch/internal/domain"
	"github.com/eliteGoblin/focusd/errwatch/internal/infra"
	"github.com/eliteGoblin/focusd/errwatch/internal/pattern"
	"github.com/eliteGoblin/focusd/errwatch/internal/usecase"
)

func runMonitor(cmd *cobra.Command, args []string) error {
	paths := resolvePaths()

	// The secret store is optional: credentials may come from a file or
	// the environment, and the cursor can live in memory.
	secrets, secretsErr := infra.OpenSecretStore(paths)
	var reader config.SecretReader
	if secretsErr == nil {
		defer secrets.Close()
		reader = secrets
	}

	cfg, err := loadConfig(paths, reader)
	if err != nil {
		return err
	}

	logger := createLogger(cfg.LogDir, cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	if secretsErr != nil {
		logger.Warn("secret store unavailable", zap.Error(secretsErr))
	}
	if cfg.Configured() {
		logger.Info("credentials loaded", zap.String("source", cfg.Source))
	} else {
		logger.Warn("no telegram credentials configured, notifications are disabled")
	}

	// Set up graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("received shutdown signal")
		cancel()
	}()

	patterns, err := loadPatterns(cfg.PatternsFile)
	if err != nil {
		return err
	}

	ignores, err := infra.NewFileIgnoreStore(cfg.IgnoreFile, logger)
	if err != nil {
		return err
	}

	processes := infra.NewProcessTable()
	sources := []domain.LogSource{infra.NewJournalSource(cfg.JournalPriority, logger)}
	if len(cfg.LogFiles) > 0 {
		files := infra.NewFileSource(cfg.LogFiles, logger)
		if err := files.Start(ctx); err != nil {
			logger.Warn("file log source disabled", zap.Error(err))
		} else {
			defer files.Close()
			sources = append(sources, files)
		}
	}
	if len(cfg.CriticalProcesses) > 0 {
		sources = append(sources, infra.NewCriticalProcessSource(cfg.CriticalProcesses, processes, logger))
	}

	host := infra.Hostname(ctx)
	telegram := infra.NewTelegram(infra.TelegramConfig{
		Token:  cfg.BotToken,
		ChatID: cfg.ChatID,
	}, logger)

	router := usecase.NewRouter(ignores, processes, logger)
	pipeline := usecase.NewPipeline(
		infra.NewCompositeSource(sources...),
		usecase.NewClassifier(patterns),
		usecase.NewRecentHistory(cfg.HistorySize),
		router,
		telegram,
		host,
		time.Now(),
		logger,
	)

	monitorCfg := daemon.DefaultMonitorConfig()
	monitorCfg.PollInterval = cfg.PollInterval
	monitorCfg.RefreshEvery = cfg.RefreshEvery
	monitorCfg.HeartbeatEvery = cfg.HeartbeatEvery
	monitorCfg.ErrorBackoff = cfg.ErrorBackoff
	monitorCfg.SummaryCron = cfg.SummaryCron
	monitorCfg.ChatID = cfg.ChatID

	var cursor daemon.CursorStore
	if secrets != nil {
		cursor = secrets
	}

	monitor := daemon.NewMonitor(monitorCfg, pipeline, router, telegram, telegram, cursor, host, logger)
	monitor.SetUptimeSource(infra.SystemUptime)

	logger.Info("starting errwatch",
		zap.String("version", Version),
		zap.String("mode", paths.Mode.String()),
		zap.String("data_dir", paths.DataDir),
		zap.Int("patterns", patterns.Len()),
		zap.Strings("log_files", cfg.LogFiles),
		zap.Strings("critical_processes", cfg.CriticalProcesses),
		zap.Int("ignored", len(ignores.List())))

	err = monitor.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// resolvePaths detects user or system locations, honouring --data-dir.
func resolvePaths() *infra.Paths {
	paths := infra.DetectPaths()
	if dataDir != "" {
		paths.DataDir = dataDir
	}
	return paths
}

// loadConfig resolves the configuration. secrets may be nil.
func loadConfig(paths *infra.Paths, secrets config.SecretReader) (*config.Config, error) {
	home := infra.GetRealUserHome()
	loader := config.NewLoader(home, secrets)
	if configPath != "" {
		loader.Candidates = append([]string{configPath}, loader.Candidates...)
	}

	cfg, err := loader.Load(paths.DataDir, paths.LogDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	cfg.IgnoreFile = infra.ExpandHome(cfg.IgnoreFile, home)
	cfg.PatternsFile = infra.ExpandHome(cfg.PatternsFile, home)
	for i, f := range cfg.LogFiles {
		cfg.LogFiles[i] = infra.ExpandHome(f, home)
	}
	return cfg, nil
}

func loadPatterns(path string) (*pattern.Set, error) {
	if path == "" {
		return pattern.Default(), nil
	}
	return pattern.Load(path)
}

// createLogger writes JSON logs to <logDir>/errwatch.log and stderr.
func createLogger(logDir string, level zapcore.Level) *zap.Logger {
	zapConfig := zap.NewProductionConfig()
	zapConfig.Level = zap.NewAtomicLevelAt(level)
	zapConfig.OutputPaths = []string{"stderr"}
	zapConfig.ErrorOutputPaths = []string{"stderr"}
	if err := os.MkdirAll(logDir, 0700); err == nil {
		zapConfig.OutputPaths = append(zapConfig.OutputPaths, filepath.Join(logDir, "errwatch.log"))
	}
	zapConfig.EncoderConfig.TimeKey = "time"
	zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zapConfig.Build()
	if err != nil {
		// Fallback to stderr only if the log file cannot be opened
		logger, _ = zap.NewProduction()
	}
	return logger
}

// cliLogger reports warnings from offline commands on stderr.
func cliLogger() *zap.Logger {
	zapConfig := zap.NewDevelopmentConfig()
	zapConfig.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	zapConfig.DisableStacktrace = true
	logger, err := zapConfig.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
