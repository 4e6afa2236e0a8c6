package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mtzanidakis/relay/internal/config"
	"github.com/mtzanidakis/relay/internal/natsbus"
	"github.com/mtzanidakis/relay/internal/sweeper"
	"github.com/mtzanidakis/relay/internal/telegram"
	"github.com/mtzanidakis/relay/internal/web"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Start the gateway service",
	Long: `Start the embedded NATS server, the orchestrator IPC handler, the
sweeper, the web API and (when a token is configured) the Telegram bot.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runGateway(cmd.Context())
	},
}

func runGateway(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	slog.Info("starting relay gateway", "version", version)

	// Embedded NATS
	bus, err := natsbus.New(cfg.NATS)
	if err != nil {
		return fmt.Errorf("init nats: %w", err)
	}
	defer bus.Close()
	slog.Info("nats started", "port", bus.Port())

	client, err := natsbus.NewClient(bus)
	if err != nil {
		return fmt.Errorf("nats client: %w", err)
	}
	defer client.Close()

	a, err := newApp(cfg, client)
	if err != nil {
		return err
	}
	defer a.Close()
	slog.Info("store initialized", "path", cfg.Store.Path)

	sw := sweeper.New(a.store, a.orch, client, cfg.Sweeper)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sw.Start(ctx)
		return nil
	})
	slog.Info("sweeper started", "schedule", sw.Schedule(), "description", sweeper.Describe(sw.Schedule()))

	var bot *telegram.Bot
	if cfg.Telegram.Token != "" {
		bot, err = telegram.NewBot(cfg.Telegram, a.orch)
		if err != nil {
			return fmt.Errorf("init telegram bot: %w", err)
		}
		g.Go(func() error {
			return bot.Start(ctx)
		})
	} else {
		slog.Warn("telegram token not set, bot disabled")
	}

	if cfg.Web.Enabled {
		srv := web.NewServer(a.store, client, a.orch, a.registry, a.dispatcher, cfg.Web, version)
		if a.secrets != nil {
			srv.SetSecrets(a.secrets)
		}
		srv.SetSweeper(sw)
		g.Go(func() error {
			return srv.Start(ctx)
		})
		slog.Info("web server started", "port", cfg.Web.Port)
	}

	g.Go(func() error {
		watchReload(ctx, cfg, sw, bot)
		return nil
	})

	<-ctx.Done()
	slog.Info("shutting down")
	return g.Wait()
}

// watchReload re-reads the config on SIGHUP and applies the fields that can
// change at runtime.
func watchReload(ctx context.Context, current *config.Config, sw *sweeper.Sweeper, bot *telegram.Bot) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
		}

		next, err := config.Load()
		if err != nil {
			slog.Error("config reload failed", "error", err)
			continue
		}
		// Credentials were resolved from the vault at startup and are not
		// reloadable, so secret references must not show up as changes.
		next.LLM.APIKey = current.LLM.APIKey
		next.Telegram.Token = current.Telegram.Token
		next.Web.Auth = current.Web.Auth
		next.Quotes.Token = current.Quotes.Token

		d := config.Diff(current, next)
		for _, field := range d.NonReloadable {
			slog.Warn("config change needs a restart", "field", field)
		}
		if !d.HasChanges() {
			slog.Info("config reloaded, nothing to apply")
			continue
		}
		if d.LogChanged {
			slog.SetDefault(config.NewLogger(d.NewLog))
			slog.Info("log settings updated", "level", d.NewLog.Level, "format", d.NewLog.Format)
		}
		if d.SweeperChanged {
			if err := sw.UpdateSchedule(d.NewSchedule); err != nil {
				slog.Error("invalid sweeper schedule, keeping the old one", "schedule", d.NewSchedule, "error", err)
				next.Sweeper = current.Sweeper
			}
		}
		if d.AllowFromChanged && bot != nil {
			bot.SetAllowFrom(d.NewAllowFrom)
			slog.Info("telegram allow list updated", "users", len(d.NewAllowFrom))
		}
		current = next
	}
}
