package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/musinsa-manager/internal/observability"
	"github.com/xkilldash9x/musinsa-manager/internal/server"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Opens the browser session and serves commands and events to the UI",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			logger := observability.GetLogger()

			rt, err := startRuntime(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to start browser session: %w", err)
			}

			srv := server.New(cfg.Server(), rt, rt.Metrics(), logger)
			serveErr := srv.Serve(ctx)

			// Stopping the runtime closes the event stream, which ends every WebSocket.
			rt.Shutdown()
			srv.Wait()
			if serveErr != nil {
				return serveErr
			}
			logger.Info("Serve finished.", zap.String("address", cfg.Server().ListenAddr))
			return nil
		},
	}
	cmd.Flags().String("listen", "", "Listen address, e.g. 127.0.0.1:8787. (Overrides config/env)")
	cmd.Flags().Bool("review-visible", false, "Show the review window. (Overrides config/env)")
	return cmd
}
