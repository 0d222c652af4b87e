package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"stratusdash/internal/agenda"
	"stratusdash/internal/config"
	"stratusdash/internal/feedcache"
	"stratusdash/internal/ics"
	appLog "stratusdash/internal/log"
	"stratusdash/internal/scheduler"
	"stratusdash/internal/web"
)

const version = "0.1.0"

// rootFlags holds values shared by every subcommand.
type rootFlags struct {
	configPath string
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		appLog.Error("command failed", err)
		appLog.Sync()
		os.Exit(1)
	}
	appLog.Sync()
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:           "stratusdash",
		Short:         "Stratus Dash calendar service",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "/etc/stratusdash/config.yaml", "Path to config file")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level override (debug, info, error)")

	root.AddCommand(newServeCmd(flags), newResolveCmd(flags))
	return root
}

// loadConfig reads the config file, applies env and flag overrides and sets
// the log level.
func loadConfig(flags *rootFlags) (*config.Config, error) {
	conf, err := config.Load(flags.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", flags.configPath, err)
	}
	conf.ApplyEnv()
	if flags.logLevel != "" {
		conf.LogLevel = flags.logLevel
		conf.Normalize()
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))
	return conf, nil
}

func newService(conf *config.Config) *ics.Service {
	loc, err := conf.Location()
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", conf.Timezone)
	}
	return ics.NewService(ics.NewFetcher(conf.FetchTimeout), loc).
		WithMaxOccurrences(conf.MaxOccurrencesPerEvent)
}

func newServeCmd(flags *rootFlags) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the background calendar refresh",
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := loadConfig(flags)
			if err != nil {
				return err
			}
			// CLI --listen overrides config file listen if provided.
			if listen != "" {
				conf.Listen = listen
			}
			return serve(cmd.Context(), flags.configPath, conf)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address (overrides config if set)")
	return cmd
}

func serve(parent context.Context, configPath string, conf *config.Config) error {
	appLog.Info("stratusdash starting", "version", version)
	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"calendar_configured", conf.CalendarURL != "",
		"cache_ttl", conf.CacheTTL.String(),
		"fetch_timeout", conf.FetchTimeout.String(),
		"refresh", conf.RefreshCron,
		"metrics_enabled", conf.MetricsEnabled,
	)

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc := newService(conf)
	cache := feedcache.New(svc, conf.CacheTTL)
	server := web.NewServer(conf, configPath, cache, svc.Location())

	var sched *scheduler.Scheduler
	if conf.RefreshEnabled() {
		s, err := scheduler.New(conf.RefreshCron, cache, server.CalendarURL, conf.FetchTimeout)
		if err != nil {
			return err
		}
		sched = s
		sched.Start()
	}

	srv := &http.Server{
		Addr:         conf.Listen,
		Handler:      server.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+conf.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		appLog.Info("signal received, shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if sched != nil {
		sched.Stop(shutdownCtx)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error("graceful shutdown failed", err)
	}
	appLog.Info("stratusdash exiting")
	return nil
}

func newResolveCmd(flags *rootFlags) *cobra.Command {
	var (
		url string
		day int
	)

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Fetch the calendar once and print the resolved events as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("url") {
				conf.CalendarURL = url
			}
			return resolveOnce(cmd.Context(), cmd.OutOrStdout(), newService(conf), conf.CalendarURL, day, cmd.Flags().Changed("day"))
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "Feed URL (overrides config)")
	cmd.Flags().IntVar(&day, "day", 0, "Only print events for this day offset (-4..14)")
	return cmd
}

func resolveOnce(ctx context.Context, out io.Writer, svc *ics.Service, url string, day int, hasDay bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	res := svc.Resolve(ctx, url)
	events := res.Events
	if hasDay {
		filtered, err := agenda.FilterDay(events, res.ResolvedAt, svc.Location(), day)
		if err != nil {
			return err
		}
		events = filtered
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"status":      res.Status(),
		"range_start": res.Window.Start,
		"range_end":   res.Window.End,
		"events":      events,
	})
}
