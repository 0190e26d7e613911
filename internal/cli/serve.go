package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/SmitUplenchwar2687/Tollgate/internal/admin"
	"github.com/SmitUplenchwar2687/Tollgate/internal/admission"
	"github.com/SmitUplenchwar2687/Tollgate/internal/clock"
	"github.com/SmitUplenchwar2687/Tollgate/internal/logging"
	"github.com/SmitUplenchwar2687/Tollgate/internal/metrics"
	"github.com/SmitUplenchwar2687/Tollgate/internal/recorder"
	"github.com/SmitUplenchwar2687/Tollgate/internal/server"
	"github.com/SmitUplenchwar2687/Tollgate/internal/store"
	"github.com/SmitUplenchwar2687/Tollgate/internal/sweeper"
)

func newServeCmd(configPath *string) *cobra.Command {
	var (
		opts       overrideOptions
		recordPath string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the admission gateway",
		Long: `Starts an HTTP server that admits requests under their quota policy and
forwards admitted ones to the upstream service.

Endpoints:
  GET    /health                      Health check (not rate limited)
  GET    /metrics                     Prometheus metrics (not rate limited)
  GET    /admin/rate-limits           List live counters (?prefix=, not rate limited)
  DELETE /admin/rate-limits/{key}     Reset one counter
  DELETE /admin/rate-limits           Reset every counter
  WS     /admin/rate-limits/events    Stream of admission decisions
  *      /*                           Guarded, proxied to --upstream`,
		Example: `  tollgate serve
  tollgate serve --upstream http://localhost:9000 --admin-token s3cret
  tollgate serve --redis-url redis://localhost:6379/0 --log-format json
  tollgate serve -c tollgate.yaml --record traffic.ndjson`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, *configPath, &opts)
			if err != nil {
				return err
			}

			logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			promReg := prometheus.NewRegistry()
			promReg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
			m, err := metrics.New(promReg)
			if err != nil {
				return err
			}

			// Graceful shutdown on SIGINT/SIGTERM.
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			clk := clock.NewRealClock()
			sc := cfg.StoreConfig()
			sc.Logger = logger
			st, err := store.Open(ctx, sc, clk)
			if err != nil {
				return err
			}
			defer st.Close()

			selector, err := buildSelector(cfg)
			if err != nil {
				return err
			}

			hub := admin.NewHub(logger)
			guard, err := admission.New(admission.Options{
				Selector:   selector,
				Store:      st,
				Clock:      clk,
				Logger:     logger,
				Metrics:    m,
				OnDecision: hub.Publish,
			})
			if err != nil {
				return err
			}

			var upstream *url.URL
			if cfg.Server.UpstreamURL != "" {
				if upstream, err = url.Parse(cfg.Server.UpstreamURL); err != nil {
					return fmt.Errorf("parsing upstream url: %w", err)
				}
			}

			var rec *recorder.Recorder
			if recordPath != "" {
				f, err := os.OpenFile(recordPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
				if err != nil {
					return fmt.Errorf("opening record file: %w", err)
				}
				defer f.Close()
				rec = recorder.New(f)
			}

			srv, err := server.New(server.Options{
				Addr:         cfg.Server.Addr,
				Guard:        guard,
				Identity:     admission.HeaderIdentity(cfg.Identity.UserHeader),
				Admin:        admin.NewHandler(admin.NewService(st, clk), hub, logger),
				AdminToken:   cfg.Admin.Token,
				Upstream:     upstream,
				Recorder:     rec,
				Gatherer:     promReg,
				Logger:       logger,
				Clock:        clk,
				ReadTimeout:  cfg.Server.ReadTimeout,
				WriteTimeout: cfg.Server.WriteTimeout,
			})
			if err != nil {
				return err
			}

			logger.Info("starting tollgate",
				"addr", cfg.Server.Addr,
				"store", cfg.StoreConfig().Backend(),
				"upstream", cfg.Server.UpstreamURL,
				"admin", cfg.Admin.Token != "",
				"policies", len(selector.Registry().All()))

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("http server: %w", err)
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				logger.Info("shutting down")
				hub.Close()
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Server.ShutdownTimeout)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
			g.Go(func() error {
				return hub.Run(gctx)
			})
			if sw, ok := st.(store.Sweepable); ok {
				g.Go(func() error {
					return sweeper.New(sw, sweeper.Options{
						Interval: cfg.Store.SweepInterval,
						Clock:    clk,
						Logger:   logger,
						Metrics:  m,
					}).Run(gctx)
				})
			}

			return g.Wait()
		},
	}

	opts.addServeFlags(cmd)
	cmd.Flags().StringVar(&recordPath, "record", "", "append guarded traffic to this file as NDJSON, for tollgate replay")
	return cmd
}
