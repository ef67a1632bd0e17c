package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rileyhilliard/meshctl/internal/backup"
	"github.com/rileyhilliard/meshctl/internal/config"
	"github.com/rileyhilliard/meshctl/internal/errors"
	"github.com/rileyhilliard/meshctl/internal/exec"
	"github.com/rileyhilliard/meshctl/internal/logger"
	"github.com/rileyhilliard/meshctl/internal/monitor"
	"github.com/rileyhilliard/meshctl/internal/service"
	"github.com/rileyhilliard/meshctl/internal/status"
)

// App holds the components one command invocation works with. It is
// built from config in dependency order: logger, status cache, command
// runner, then the components that use them.
type App struct {
	Config     *config.Config
	ConfigPath string
	Log        logger.Logger
	Cache      *status.Cache
	Runner     exec.CommandRunner
	Backups    *backup.Manager

	file     *logger.FileLogger
	services map[string]*service.Controller
}

// AppOption adjusts how an App is built.
type AppOption func(*App)

// WithRunner replaces the process-backed command runner.
func WithRunner(r exec.CommandRunner) AppOption {
	return func(a *App) {
		a.Runner = r
	}
}

// appOptions are applied to every App the commands open. Tests use it to
// substitute a scripted runner.
var appOptions []AppOption

// openApp loads config and builds an App for the current command.
func openApp() (*App, error) {
	cfg, path, err := config.LoadOrDefault(Config())
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return newApp(cfg, path, appOptions...)
}

func newApp(cfg *config.Config, path string, opts ...AppOption) (*App, error) {
	fl, err := logger.Init(logger.FileConfig{
		Path:    cfg.Log.Path,
		MaxSize: cfg.Log.MaxSize,
		Keep:    cfg.Log.Keep,
		Level:   cfg.Log.Level,
	})
	if err != nil {
		return nil, err
	}

	a := &App{
		Config:     cfg,
		ConfigPath: path,
		Log:        fl,
		file:       fl,
		Cache:      status.Init(cfg.Cache.TTL),
		services:   make(map[string]*service.Controller),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.Runner == nil {
		a.Runner = exec.NewRunner(
			exec.WithDefaults(cfg.Runner.Timeout, cfg.Runner.MaxAttempts, cfg.Runner.BackoffBase, cfg.Runner.BackoffCap),
			exec.WithLogger(fl.Named("exec")),
		)
	}

	a.Backups, err = backup.NewManager(backup.Config{
		Root:         cfg.Backup.Root,
		Sources:      cfg.Backup.Sources,
		ImportRoot:   cfg.Backup.ImportRoot,
		ExpectedDirs: cfg.Backup.ExpectedDirs,
		LockTimeout:  cfg.Backup.LockTimeout,
		LockStale:    cfg.Backup.LockStale,
	}, a.Runner, backup.WithLogger(fl.Named("backup")))
	if err != nil {
		a.Close()
		return nil, err
	}

	if path != "" {
		fl.Debug("loaded config from %s", path)
	}
	return a, nil
}

// Close releases the log file and the status cache.
func (a *App) Close() {
	if a.file != nil && a.file.Degraded() {
		fmt.Fprintf(os.Stderr, "warning: log file %s is not writable; log records were dropped\n", a.file.Path())
	}
	status.Reset()
	logger.Reset()
}

// ServiceNames returns the configured service names in sorted order.
func (a *App) ServiceNames() []string {
	return a.Config.ServiceNames()
}

// Service returns the controller for name, creating it on first use. A
// controller whose startup check failed is still returned alongside the
// error; its state is Unknown.
func (a *App) Service(ctx context.Context, name string) (*service.Controller, error) {
	if c, ok := a.services[name]; ok {
		return c, nil
	}
	sc, ok := a.Config.Services[name]
	if !ok {
		return nil, errors.New(errors.ErrConfig,
			fmt.Sprintf("Service '%s' isn't configured", name),
			fmt.Sprintf("Configured services: %s", strings.Join(a.ServiceNames(), ", ")))
	}

	c, err := service.New(ctx, descriptor(name, sc), a.Runner, a.Cache,
		service.WithLogger(a.file.Named("service")),
		service.WithVersionTTL(a.Config.Cache.VersionTTL),
	)
	if c != nil {
		a.services[name] = c
	}
	return c, err
}

// Collector builds a status collector over every configured service.
func (a *App) Collector(ctx context.Context) *monitor.Collector {
	var controllers []*service.Controller
	for _, name := range a.ServiceNames() {
		c, err := a.Service(ctx, name)
		if c == nil {
			a.Log.Warn("skipping %s in status: %v", name, err)
			continue
		}
		controllers = append(controllers, c)
	}
	return monitor.NewCollector(a.Cache, a.Backups, controllers...)
}

func descriptor(name string, sc config.ServiceConfig) service.Descriptor {
	return service.Descriptor{
		Name:           name,
		AliveCheck:     sc.Alive,
		StartCommand:   sc.Start,
		StopCommand:    sc.Stop,
		VersionCommand: sc.Version,
		PollInterval:   sc.PollInterval,
		MaxWait:        sc.MaxWait,
	}
}
