package commands

import (
	"context"
	"fmt"

	"connectrpc.com/connect"
	"github.com/spf13/cobra"

	spafwv1 "github.com/nullbind/spafwd/pkg/spafwpb/spafw/v1"
)

func replayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay-cache",
		Short: "Inspect the replay (digest) cache",
	}

	cmd.AddCommand(replayInspectCmd())

	return cmd
}

func replayInspectCmd() *cobra.Command {
	var digestHex string

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Report the replay cache's size and, optionally, whether a digest is present",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			resp, err := client.InspectReplayCache(context.Background(), connect.NewRequest(&spafwv1.InspectReplayCacheRequest{
				DigestHex: digestHex,
			}))
			if err != nil {
				return fmt.Errorf("inspect replay cache: %w", err)
			}

			fmt.Printf("Size: %d digests\n", resp.Msg.GetSize())

			if digestHex != "" {
				fmt.Printf("Digest %s present: %t\n", digestHex, resp.Msg.GetDigestPresent())
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&digestHex, "digest", "", "hex-encoded SHA-256 digest to check for presence")

	return cmd
}
