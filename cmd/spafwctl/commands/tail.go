package commands

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"connectrpc.com/connect"
	"github.com/spf13/cobra"

	spafwv1 "github.com/nullbind/spafwd/pkg/spafwpb/spafw/v1"
)

func tailCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Stream pipeline verdicts (accept/keep/stop) as they are produced",
		Long:  "Connects to the spafwd daemon and streams admission verdicts until interrupted (Ctrl+C).",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			stream, err := client.TailVerdicts(ctx, connect.NewRequest(&spafwv1.TailVerdictsRequest{}))
			if err != nil {
				return fmt.Errorf("tail verdicts: %w", err)
			}
			defer stream.Close()

			for stream.Receive() {
				msg := stream.Msg()

				out, fmtErr := formatVerdict(msg, outputFormat)
				if fmtErr != nil {
					return fmt.Errorf("format verdict: %w", fmtErr)
				}

				fmt.Println(out)
			}

			if err := stream.Err(); err != nil {
				// Context cancellation (Ctrl+C) is expected, not an error.
				if errors.Is(err, context.Canceled) {
					return nil
				}

				return fmt.Errorf("stream error: %w", err)
			}

			return nil
		},
	}

	return cmd
}
