// File: cmd/navigate.go
package cmd

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/marionet/internal/engine"
	"github.com/xkilldash9x/marionet/internal/observability"
	"github.com/xkilldash9x/marionet/internal/protocol"
)

var navigateCmd = &cobra.Command{
	Use:   "navigate <url>",
	Short: "Open a page, navigate it to the given URL and report the outcome.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := observability.GetLogger()

		dialCtx, cancel := context.WithTimeout(cmd.Context(), cfg.Endpoint.DialTimeout)
		defer cancel()
		transport, err := dialEndpoint(dialCtx, cmd, logger)
		if err != nil {
			return err
		}

		eng, err := engine.Connect(cmd.Context(), transport, logger, cfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := eng.Close(); err != nil {
				logger.Warn("Engine close failed", zap.Error(err))
			}
		}()

		bc, err := eng.Browser().NewContext(cmd.Context())
		if err != nil {
			return err
		}
		page, err := bc.NewPage(cmd.Context())
		if err != nil {
			return err
		}

		resp, err := page.Goto(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if resp != nil {
			logger.Info("Navigation finished",
				zap.String("url", resp.URL()),
				zap.Int("status", resp.Status()))
		} else {
			logger.Info("Navigation finished without a response", zap.String("url", page.URL()))
		}

		return bc.Close(cmd.Context())
	},
}

// dialEndpoint builds the transport from the --endpoint flag or the
// endpoint section of the config.
func dialEndpoint(ctx context.Context, cmd *cobra.Command, logger *zap.Logger) (protocol.Transport, error) {
	url, _ := cmd.Flags().GetString("endpoint")
	if url == "" {
		url = cfg.Endpoint.URL
	}
	if url != "" {
		return protocol.DialWebSocket(ctx, url, logger)
	}
	if cfg.Endpoint.Pipe != "" {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "unix", cfg.Endpoint.Pipe)
		if err != nil {
			return nil, fmt.Errorf("failed to dial pipe endpoint %q: %w", cfg.Endpoint.Pipe, err)
		}
		if deadline, ok := ctx.Deadline(); ok {
			_ = conn.SetDeadline(deadline)
			defer conn.SetDeadline(time.Time{})
		}
		return protocol.NewPipeTransport(conn, logger), nil
	}
	return nil, fmt.Errorf("no endpoint configured: set --endpoint, endpoint.url or endpoint.pipe")
}

func init() {
	rootCmd.AddCommand(navigateCmd)
}
