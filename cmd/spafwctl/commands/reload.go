package commands

import (
	"context"
	"fmt"

	"connectrpc.com/connect"
	"github.com/spf13/cobra"

	spafwv1 "github.com/nullbind/spafwd/pkg/spafwpb/spafw/v1"
)

func reloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Re-read the policy file and swap it in, the RPC equivalent of SIGHUP",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			resp, err := client.ReloadPolicy(context.Background(), connect.NewRequest(&spafwv1.ReloadPolicyRequest{}))
			if err != nil {
				return fmt.Errorf("reload policy: %w", err)
			}

			fmt.Printf("Policy reloaded: %d stanzas loaded.\n", resp.Msg.GetStanzaCount())

			return nil
		},
	}
}
