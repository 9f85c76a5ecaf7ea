package commands

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/nullbind/spafwd/pkg/spafwpb/spafw/v1/spafwv1connect"
)

var (
	// client is the ConnectRPC SpaFwService client, initialized in PersistentPreRunE.
	client spafwv1connect.SpaFwServiceClient

	// outputFormat controls the output format for all commands (table or json).
	outputFormat string

	// serverAddr is the daemon's admin address (host:port) for the ConnectRPC connection.
	serverAddr string
)

// rootCmd is the top-level cobra command for spafwctl.
var rootCmd = &cobra.Command{
	Use:   "spafwctl",
	Short: "CLI client for the spafwd daemon",
	Long:  "spafwctl communicates with the spafwd daemon via ConnectRPC to inspect access policy, the replay cache, and admission decisions.",
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		client = spafwv1connect.NewSpaFwServiceClient(
			http.DefaultClient,
			"http://"+serverAddr,
		)

		return nil
	},
	// Silence cobra's built-in usage/error printing so we control it.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "addr", "localhost:50051",
		"spafwd daemon admin address (host:port)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table",
		"output format: table, json")

	rootCmd.AddCommand(stanzaCmd())
	rootCmd.AddCommand(reloadCmd())
	rootCmd.AddCommand(replayCmd())
	rootCmd.AddCommand(tailCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(shellCmd())
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
