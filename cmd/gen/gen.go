package gen

import (
	"github.com/spf13/cobra"
)

var RootCmd = &cobra.Command{
	Use:   "gen",
	Short: "Generate documentation",
	Long:  `Generate documentation for the msnp commands`,
}

func init() {
	RootCmd.AddCommand(DocsCmd)
}
