package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	httpapi "github.com/tbourn/go-quote-engine/internal/http"
	"github.com/tbourn/go-quote-engine/internal/observability"
	"github.com/tbourn/go-quote-engine/internal/sysutil"
)

const shutdownTimeout = 15 * time.Second

var servePort string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the inbound webhook, operator API and background sweeper",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
		if err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownOTel(sctx); err != nil {
				log.Warn().Err(err).Msg("otel shutdown")
			}
		}()

		db, err := openDB(cfg)
		if err != nil {
			return err
		}
		a, err := newApp(cfg, db, prometheus.DefaultRegisterer)
		if err != nil {
			return err
		}
		defer a.Close()

		gin.SetMode(cfg.GinMode)
		r := gin.New()
		httpapi.RegisterRoutes(r, a.handlers(), cfg)

		srv := &http.Server{
			Addr:              net.JoinHostPort("", sysutil.FirstNonEmpty(servePort, cfg.Port)),
			Handler:           r,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
			WriteTimeout:      cfg.WriteTimeout,
			IdleTimeout:       cfg.IdleTimeout,
			MaxHeaderBytes:    cfg.MaxHeaderBytes,
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return a.dispatcher.Run(gctx) })
		g.Go(func() error {
			a.sweeper.Run(gctx)
			return nil
		})
		g.Go(func() error {
			log.Info().Str("addr", srv.Addr).Str("version", version).Msg("starting server")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			log.Info().Msg("shutting down server")
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})

		if err := g.Wait(); err != nil {
			log.Error().Err(err).Msg("server stopped with error")
			return err
		}
		log.Info().Msg("server stopped")
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&servePort, "port", "", "listen port (default from PORT)")
	rootCmd.AddCommand(serveCmd)
}
