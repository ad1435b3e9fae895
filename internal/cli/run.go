package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/darshan-rambhia/hublens/internal/alerts"
	"github.com/darshan-rambhia/hublens/internal/api"
	"github.com/darshan-rambhia/hublens/internal/config"
	"github.com/darshan-rambhia/hublens/internal/dashboard"
	"github.com/darshan-rambhia/hublens/internal/events"
	"github.com/darshan-rambhia/hublens/internal/model"
	"github.com/darshan-rambhia/hublens/internal/notify"
	"github.com/darshan-rambhia/hublens/internal/session"
	"github.com/darshan-rambhia/hublens/internal/store"
)

func newRunCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the dashboard server",
		Long: `Start a dashboard and an alert tracker for every registered instance and
serve their data over HTTP until interrupted.

Instances listed in the config file are registered (or updated) first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(opts.configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer e.Close()

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return e.serve(ctx)
		},
	}
}

// buildProviders turns notification config into providers. Invalid entries
// are logged and skipped.
func buildProviders(cfgs []config.NotificationConfig) []notify.Provider {
	var providers []notify.Provider
	for _, ncfg := range cfgs {
		switch ncfg.Type {
		case "ntfy":
			providers = append(providers, notify.NewNtfy(ncfg.URL, ncfg.Topic, ncfg.Token))
		case "webhook":
			method := ncfg.Method
			if method == "" {
				method = "POST"
			}
			providers = append(providers, notify.NewWebhook(ncfg.URL, method, ncfg.Headers))
		case "shoutrrr":
			p, err := notify.NewShoutrrr(ncfg.URL, nil)
			if err != nil {
				slog.Error("skipping shoutrrr target", "error", err)
				continue
			}
			providers = append(providers, p)
		}
	}
	return providers
}

// supervisor owns the per-instance goroutines. Each instance runs under its
// own context so that removing one leaves the rest untouched.
type supervisor struct {
	e         *env
	bus       *events.Bus
	views     *api.Views
	providers []notify.Provider

	mu      sync.Mutex
	wg      sync.WaitGroup
	cancels map[string]context.CancelFunc
}

func (e *env) serve(ctx context.Context) error {
	ver, sha, built, dirty := buildInfo()
	slog.Info("starting hublens",
		"version", ver,
		"commit", sha,
		"built", built,
		"dirty", dirty,
		"go", runtime.Version(),
		"listen", e.cfg.Listen,
	)

	if err := e.syncInstances(e.cfg.Instances); err != nil {
		slog.Error("registering configured instances", "error", err)
	}
	instances, err := e.registry.List()
	if err != nil {
		return fmt.Errorf("listing instances: %w", err)
	}

	sup := &supervisor{
		e:         e,
		bus:       events.NewBus(),
		views:     api.NewViews(),
		providers: buildProviders(e.cfg.Notifications),
		cancels:   make(map[string]context.CancelFunc),
	}
	unsubscribe := sup.bus.Subscribe(func(ev events.Event) {
		slog.Warn("instance removed after repeated auth failures", "instance", ev.Instance)
		sup.stop(ev.Instance)
	}, events.InstanceRemoved)
	defer unsubscribe()

	g, ctx := errgroup.WithContext(ctx)
	for _, inst := range instances {
		if err := sup.start(ctx, inst); err != nil {
			slog.Error("starting instance", "instance", inst.ID, "name", inst.Name, "error", err)
		}
	}

	pruner := store.NewPruner(e.store, store.RetentionConfig{TokenCache: e.cfg.TokenCacheTTL.Duration})
	g.Go(func() error { return pruner.Run(ctx) })

	server := api.NewServer(e.cfg.Listen, sup.views, e.pins, sup.bus)
	g.Go(func() error { return server.Run(ctx) })

	slog.Info("all components started",
		"instances", len(instances),
		"notifications", len(sup.providers),
	)

	err = g.Wait()
	sup.wg.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	slog.Info("hublens stopped gracefully")
	return nil
}

// start launches the dashboard and alert tracker of one instance.
func (s *supervisor) start(parent context.Context, inst model.Instance) error {
	client, err := session.New(inst, s.e.creds, s.e.store)
	if err != nil {
		return err
	}
	dash := dashboard.New(client, dashboard.Options{
		Range:    s.e.cfg.Range(),
		Method:   s.e.cfg.Method(),
		Bus:      s.bus,
		Remover:  s.e.registry,
		Settings: s.e.store,
	})
	tracker := alerts.New(client, alerts.Options{
		State:     s.e.store,
		Providers: s.providers,
		Bus:       s.bus,
		Interval:  s.e.cfg.AlertPollInterval.Duration,
	})

	ctx, cancel := context.WithCancel(parent)
	s.mu.Lock()
	s.cancels[inst.ID] = cancel
	s.mu.Unlock()
	s.views.Add(api.View{Dashboard: dash, Alerts: tracker, Details: client})

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		if err := dash.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("dashboard exited", "instance", inst.ID, "error", err)
		}
	}()
	go func() {
		defer s.wg.Done()
		if err := tracker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("alert tracker exited", "instance", inst.ID, "error", err)
		}
	}()
	return nil
}

// stop cancels an instance's goroutines and withdraws it from the API.
func (s *supervisor) stop(instanceID string) {
	s.mu.Lock()
	cancel, ok := s.cancels[instanceID]
	delete(s.cancels, instanceID)
	s.mu.Unlock()
	if ok {
		cancel()
	}
	s.views.Remove(instanceID)
}
