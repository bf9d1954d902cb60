package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/luma/msnp/cmd/gen"
)

// Path of the YAML config file, searched for when empty
var configFile string

var RootCmd = &cobra.Command{
	Use:   "msnp",
	Short: "A headless MSN Messenger client",
	Long: `A headless MSN Messenger client speaking MSNP7 to MSNP9.

Settings come from MSNP_* environment variables, an optional .env.local file
and an optional msnp.yaml config file, flags override all of them.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	RootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default ./msnp.yaml or $HOME/.config/msnp/msnp.yaml)")

	RootCmd.AddCommand(LoginCmd)
	RootCmd.AddCommand(VersionCmd)
	RootCmd.AddCommand(gen.RootCmd)
}

// Execute runs the root command and exits non zero on failure.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
