package commands

import (
	"context"
	"errors"
	"fmt"

	"connectrpc.com/connect"
	"github.com/spf13/cobra"

	spafwv1 "github.com/nullbind/spafwd/pkg/spafwpb/spafw/v1"
)

// errNameRequired is returned when a stanza-scoped command is missing its
// required name argument.
var errNameRequired = errors.New("stanza name is required")

func stanzaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stanza",
		Short: "Inspect access.conf stanzas loaded by the daemon",
	}

	cmd.AddCommand(stanzaListCmd())
	cmd.AddCommand(stanzaShowCmd())
	cmd.AddCommand(stanzaExpireCmd())

	return cmd
}

// --- stanza list ---

func stanzaListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all loaded access stanzas",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			resp, err := client.ListStanzas(context.Background(), connect.NewRequest(&spafwv1.ListStanzasRequest{}))
			if err != nil {
				return fmt.Errorf("list stanzas: %w", err)
			}

			out, err := formatStanzas(resp.Msg.GetStanzas(), outputFormat)
			if err != nil {
				return fmt.Errorf("format stanzas: %w", err)
			}

			fmt.Print(out)

			return nil
		},
	}
}

// --- stanza show ---

func stanzaShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Show details of one access stanza",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			resp, err := client.GetStanza(context.Background(), connect.NewRequest(&spafwv1.GetStanzaRequest{Name: args[0]}))
			if err != nil {
				return fmt.Errorf("get stanza: %w", err)
			}

			out, err := formatStanza(resp.Msg.GetStanza(), outputFormat)
			if err != nil {
				return fmt.Errorf("format stanza: %w", err)
			}

			fmt.Print(out)

			return nil
		},
	}
}

// --- stanza expire ---

func stanzaExpireCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "expire <name>",
		Short: "Force a stanza to expire immediately, independent of its configured expiry",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if args[0] == "" {
				return errNameRequired
			}

			_, err := client.ForceExpireStanza(context.Background(), connect.NewRequest(&spafwv1.ForceExpireStanzaRequest{Name: args[0]}))
			if err != nil {
				return fmt.Errorf("force expire stanza: %w", err)
			}

			fmt.Printf("Stanza %q expired.\n", args[0])

			return nil
		},
	}
}
