package main

import (
	"context"
	"errors"
	"fmt"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/spf13/cobra"

	"github.com/pspdemo/isoload/internal/api"
	"github.com/pspdemo/isoload/internal/engine"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP control API",
		RunE: func(cmd *cobra.Command, args []string) error {
			appCtx, cleanup, err := bootstrap(opts, cmd, true)
			if err != nil {
				return err
			}
			defer cleanup()

			if port == "" {
				port = appCtx.Config.Port
			}

			// Setup Signal Handling for Graceful Shutdown
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			coord := engine.NewCoordinator(appCtx)
			coord.SetBaseContext(ctx)

			e := echo.New()
			api.RegisterRoutes(e, appCtx, coord)

			srv := &http.Server{
				Addr:              ":" + port,
				Handler:           e,
				ReadHeaderTimeout: 10 * time.Second,
				ErrorLog:          stdlog.New(appCtx.Logger, "", 0),
			}

			errCh := make(chan error, 1)
			go func() {
				appCtx.Logger.Info("API listening on %s", srv.Addr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("api server: %w", err)
				}
			case <-ctx.Done():
			}

			appCtx.Logger.Info("Shutting down...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				appCtx.Logger.Error("API shutdown: %v", err)
			}
			if !coord.Wait(shutdownCtx) {
				appCtx.Logger.Warn("Extraction did not stop in time")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", "", "override port")
	return cmd
}
