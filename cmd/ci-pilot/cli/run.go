package cli

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/davarch/ci-pilot/internal/application"
	"github.com/davarch/ci-pilot/internal/domain"
	"github.com/davarch/ci-pilot/internal/infrastructure/cache_fs"
	"github.com/davarch/ci-pilot/internal/infrastructure/config"
	"github.com/davarch/ci-pilot/internal/infrastructure/notify_libnotify"
	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const reloadDebounce = 300 * time.Millisecond

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Watch configured projects (polling + notifications + status cache)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()
		log := a.log

		cfg := a.live.Load()
		if err := cfg.Validate(); err != nil {
			return err
		}

		fetcher := application.NewSnapshotFetcher(log, a.gateway, a.gateway, application.FetchOptions{
			Limit:    cfg.Poll.Limit,
			JobDepth: cfg.Poll.JobDepth,
			Fanout:   cfg.Poll.Workers,
		})
		reporter := application.NewReporter(log, notify_libnotify.NewSoft(), cache_fs.New(cfg.Cache.Path), a.live)
		monitor := application.NewMonitor(log, fetcher, a.resolver, a.clients, application.NewPool(cfg.Poll.Workers),
			cfg.Connection(), application.MonitorOptions{PauseFile: cfg.Poll.PauseFile}, reporter)
		defer monitor.Shutdown()

		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		if err := monitor.Sync(ctx, refsOf(cfg)); err != nil {
			log.Warn("some projects are not watched", zap.Error(err))
		}
		if len(monitor.Projects()) == 0 {
			return errors.New("no enabled project could be resolved")
		}

		watchAndReload(ctx, cfgPath, log, a.live, monitor)
		refreshOnSignal(ctx, log, monitor)

		log.Info("start",
			zap.String("version", version),
			zap.Int("projects", len(monitor.Projects())),
			zap.Duration("every", cfg.Poll.Interval),
			zap.Bool("polling", cfg.Poll.Enabled),
			zap.String("cache", cfg.Cache.Path),
			zap.String("gitlab", cfg.GitLab.BaseURL),
			zap.String("pause_file", cfg.Poll.PauseFile),
		)

		<-ctx.Done()
		log.Info("stop")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func refsOf(cfg config.Config) []domain.ProjectRef {
	ps := cfg.EnabledProjects()
	refs := make([]domain.ProjectRef, 0, len(ps))
	for _, p := range ps {
		refs = append(refs, p.ToRef())
	}
	return refs
}

// refreshOnSignal refreshes every project on SIGUSR1.
func refreshOnSignal(ctx context.Context, log *zap.Logger, monitor *application.Monitor) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGUSR1)

	go func() {
		defer signal.Stop(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ch:
				log.Info("manual refresh requested")
				monitor.RefreshAll()
			}
		}
	}()
}

func watchAndReload(ctx context.Context, cfgPath string, log *zap.Logger, live *config.Live, monitor *application.Monitor) {
	if cfgPath == "" {
		return
	}

	dir := filepath.Dir(cfgPath)
	base := filepath.Base(cfgPath)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn("fsnotify init failed", zap.Error(err))
		return
	}

	if err := w.Add(dir); err != nil {
		log.Warn("fsnotify add dir failed", zap.String("dir", dir), zap.Error(err))
		_ = w.Close()
		return
	}

	reload := func() {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			log.Warn("config reload failed", zap.Error(err))
			return
		}
		if err := cfg.Validate(); err != nil {
			log.Warn("config reload rejected", zap.Error(err))
			return
		}

		live.Store(cfg)
		monitor.Reconfigure(cfg.Connection())
		if err := monitor.Sync(ctx, refsOf(cfg)); err != nil {
			log.Warn("config reload: some projects are not watched", zap.Error(err))
		}
		log.Info("config reloaded", zap.Int("projects", len(monitor.Projects())))
	}

	go func() {
		defer func() { _ = w.Close() }()

		timer := time.NewTimer(reloadDebounce)
		stopTimer(timer)
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
				reload()
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != base {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					stopTimer(timer)
					timer.Reset(reloadDebounce)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warn("fsnotify error", zap.Error(err))
			}
		}
	}()
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}
