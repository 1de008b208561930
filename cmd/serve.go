package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"adforge/internal/apihandlers"
	"adforge/internal/clix"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the campaign controller behind a local HTTP API",
	Long: `Starts an HTTP server exposing the single in-process campaign: upload
reference images, poll status, fetch rendered shots, retry and reset.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return err
		}
		params := clix.ParseServerParams(cmd.Flags(), appInstance.Config.Server.Addr, appInstance.Config.Server.Port)

		if !log.IsLevelEnabled(log.DebugLevel) {
			gin.SetMode(gin.ReleaseMode)
		}
		router := gin.New()
		router.Use(gin.Logger(), apihandlers.Recovery())
		router.NoRoute(apihandlers.NoRoute)
		apihandlers.NewAPIHandler(appInstance.Controller).RegisterRoutes(router)

		srv := &http.Server{
			Addr:              params.Address(),
			Handler:           router,
			ReadHeaderTimeout: 15 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			log.Infof("Starting adforge API server on http://%s", params.Address())
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("failed to run API server: %w", err)
			}
			return nil
		case <-cmd.Context().Done():
			log.Info("Shutdown signal received, draining connections...")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		log.Info("adforge API server stopped.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "localhost", "Address to listen on (e.g., '0.0.0.0' for all interfaces)")
	serveCmd.Flags().String("port", "8080", "Port to listen on")
}
