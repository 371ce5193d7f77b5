package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/yawon3/pocali-backend/internal/logging"
	"github.com/yawon3/pocali-backend/internal/server"
)

var listenAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the HTTP server: the JSON API under /api, the catalog page at /,
the admin upload pages under /admin and Prometheus metrics at /metrics.

The server stops gracefully on SIGINT or SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if listenAddr != "" {
			cfg.ListenAddr = listenAddr
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		store, err := openStore(ctx, cfg)
		if err != nil {
			return fmt.Errorf("database: %w", err)
		}
		defer store.Close()
		logging.Info().Str("driver", cfg.Database.Driver).Msg("database ready")

		cat, err := openCatalog(cfg)
		if err != nil {
			return err
		}
		logging.Info().
			Str("backend", cat.Backend()).
			Bool("uploads", cat.CanUpload()).
			Int("substitutions", len(cat.Parser().Table())).
			Msg("catalog ready")

		if !cfg.Admin.Enabled() {
			logging.Warn().Msg("ADMIN_PASSWORD is not set: admin pages are open to everyone")
		}

		handler, err := server.New(cat, store, server.Options{
			AdminPassword:     cfg.Admin.Password,
			AdminPasswordHash: cfg.Admin.PasswordHash,
			CookieSecure:      cfg.Cookie.Secure,
			CookieSameSite:    cfg.Cookie.SameSiteMode(),
			CORSOrigins:       cfg.CORSOrigins,
			PublicURL:         cfg.PublicURL,
			ImagesPrefix:      cfg.Storage.URLPrefix,
		})
		if err != nil {
			return err
		}

		srv := &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           handler,
			ReadTimeout:       30 * time.Second,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       120 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			logging.Info().Str("addr", cfg.ListenAddr).Msg("listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("listen: %w", err)
			}
			return nil
		case <-ctx.Done():
		}

		logging.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVarP(&listenAddr, "addr", "a", "", "listen address, overrides listen_addr (e.g. :5000)")
	rootCmd.AddCommand(serveCmd)
}
