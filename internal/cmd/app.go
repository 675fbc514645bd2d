package cmd

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/Iron-Ham/autopilot/internal/channel"
	"github.com/Iron-Ham/autopilot/internal/checkpoint"
	"github.com/Iron-Ham/autopilot/internal/config"
	"github.com/Iron-Ham/autopilot/internal/logging"
	"github.com/Iron-Ham/autopilot/internal/orchestrator"
	"github.com/Iron-Ham/autopilot/internal/task"
	"github.com/Iron-Ham/autopilot/internal/telemetry"
	"github.com/Iron-Ham/autopilot/internal/worker"
)

// SQLiteFileName is the database file inside checkpoint.dir when the
// sqlite backend is selected.
const SQLiteFileName = "checkpoints.db"

// app bundles the collaborators a command needs. Fields a command does not
// ask for stay nil.
type app struct {
	cfg         *config.Config
	logger      *logging.Logger
	tasks       *task.FileStore
	checkpoints checkpoint.Store
	channel     *channel.FileChannel
	engine      *orchestrator.Engine
	collector   *telemetry.Collector
}

// loadConfig reads the merged viper configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*logging.Logger, error) {
	logger, err := logging.NewLogger(cfg.Logging.Dir, cfg.Logging.Level, logging.RotationConfig{
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		Compress:   cfg.Logging.Compress,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return logger, nil
}

// openCheckpoints opens the configured checkpoint backend.
func openCheckpoints(cfg *config.Config) (checkpoint.Store, error) {
	switch strings.ToLower(cfg.Checkpoint.Backend) {
	case "sqlite":
		return checkpoint.NewSQLiteStore(filepath.Join(cfg.Checkpoint.Dir, SQLiteFileName))
	case "", "file":
		return checkpoint.NewFileStore(cfg.Checkpoint.Dir)
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", cfg.Checkpoint.Backend)
	}
}

func openTasks(cfg *config.Config, logger *logging.Logger) (*task.FileStore, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}
	opts := []task.FileStoreOption{task.WithLogger(logger)}
	if len(cfg.Tasks.ExpandCommand) > 0 {
		opts = append(opts, task.WithExpandCommand(cfg.Tasks.ExpandCommand, cfg.Tasks.WorkDir))
	}
	return task.NewFileStore(cfg.Tasks.File, opts...)
}

// newAgent builds the worker for the configured profiles. Tests replace it.
var newAgent = func(cfg *config.Config, logger *logging.Logger) (worker.Agent, error) {
	return worker.NewRegistryFromConfig(cfg.Worker, cfg.Tasks.WorkDir, logger)
}

// newApp wires the full engine for commands that run tasks. Notifications
// are echoed to out when channel.echo is set.
func newApp(out io.Writer) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger}

	if a.tasks, err = openTasks(cfg, logger); err != nil {
		a.Close()
		return nil, err
	}
	if cfg.Workflow.EnableCheckpointing {
		if a.checkpoints, err = openCheckpoints(cfg); err != nil {
			a.Close()
			return nil, err
		}
	}

	agent, err := newAgent(cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	chOpts := []channel.FileOption{channel.WithLogger(logger)}
	if cfg.Channel.Echo {
		chOpts = append(chOpts, channel.WithEcho(out))
	}
	a.channel = channel.NewFileChannel(cfg.Channel.OutboxFile, cfg.Channel.InboxDir, chOpts...)

	a.engine, err = orchestrator.New(orchestrator.Deps{
		Tasks:       a.tasks,
		Agent:       agent,
		Checkpoints: a.checkpoints,
		Channel:     a.channel,
		Logger:      logger,
	}, orchestrator.ConfigFrom(cfg))
	if err != nil {
		a.Close()
		return nil, err
	}

	a.collector, err = loadCollector(cfg.Telemetry.SnapshotFile, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.collector.Attach(a.engine.Bus())
	return a, nil
}

// loadCollector continues counting from the saved snapshot when there is
// one.
func loadCollector(path string, logger *logging.Logger) (*telemetry.Collector, error) {
	if path == "" {
		return telemetry.NewCollector(logger), nil
	}
	snap, err := telemetry.LoadSnapshot(path)
	if errors.Is(err, fs.ErrNotExist) {
		return telemetry.NewCollector(logger), nil
	}
	if err != nil {
		return nil, err
	}
	return telemetry.NewCollectorFrom(snap, logger), nil
}

// saveTelemetry persists the collector's snapshot. Failures are logged.
func (a *app) saveTelemetry() {
	if a.collector == nil || a.cfg.Telemetry.SnapshotFile == "" {
		return
	}
	if err := a.collector.Save(a.cfg.Telemetry.SnapshotFile); err != nil {
		a.logger.Warn("failed to save telemetry snapshot", "error", err)
	}
}

// Close releases everything the app opened.
func (a *app) Close() {
	if a.collector != nil {
		a.collector.Detach()
	}
	if a.engine != nil {
		a.engine.Close()
	}
	if a.checkpoints != nil {
		_ = a.checkpoints.Close()
	}
	if a.logger != nil {
		_ = a.logger.Close()
	}
}

