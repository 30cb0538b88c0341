package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/yegors/diarscribe/internal/api"
	"github.com/yegors/diarscribe/internal/pipeline"
	"github.com/yegors/diarscribe/internal/websocket"
	"github.com/yegors/diarscribe/pkg/logger"
)

func NewServeCmd(deps *Dependencies) *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the transcription API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := deps.Config
			if cmd.Flags().Changed("host") {
				cfg.Server.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			log := deps.Logger

			wsServer := websocket.NewServer(cfg.Server.CORSAllowedOrigins, log)
			defer wsServer.Close()
			deps.App.Pipeline.AddSink(pipeline.NewWebsocketSink(wsServer))

			router := api.NewRouter(deps.App.Pipeline, deps.App.Transcripts, wsServer, cfg, log)
			server := api.NewServer(cfg.Server, router.Routes(), log)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				errCh <- server.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Warn("Graceful shutdown failed", logger.Error(err))
			}
			return <-errCh
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "Listen host (default from config)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "Listen port (default from config)")

	return cmd
}
