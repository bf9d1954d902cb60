package gen

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/cobra/doc"

	"github.com/luma/msnp/internal/meta"
)

var (
	docsDir string
	format  string
)

var DocsCmd = &cobra.Command{
	Use:   "docs",
	Short: "Generate man pages or markdown for every msnp command",
	Long: `Generates up-to-date documentation of every msnp command, as man pages
(the default) or as markdown. Files are written to --dir, which is created
when missing.`,

	RunE: func(cmd *cobra.Command, args []string) error {
		if err := os.MkdirAll(docsDir, 0750); err != nil {
			return err
		}

		root := cmd.Root()
		root.DisableAutoGenTag = true

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Writing %s documentation to %s\n", format, docsDir)

		switch format {
		case "man":
			header := &doc.GenManHeader{
				Section: "1",
				Manual:  "msnp Manual",
				Source:  meta.GetInfo().String(),
			}

			if err := doc.GenManTree(root, header, docsDir); err != nil {
				return err
			}

		case "md", "markdown":
			if err := doc.GenMarkdownTree(root, docsDir); err != nil {
				return err
			}

		default:
			return fmt.Errorf("unknown format %q, expected man or md", format)
		}

		fmt.Fprintln(out, "Done.")
		return nil
	},
}

func init() {
	flags := DocsCmd.Flags()

	flags.StringVar(&docsDir, "dir", "man", "the directory to write the documentation to")
	flags.StringVar(&format, "format", "man", "man or md")

	// For bash-completion
	if err := flags.SetAnnotation("dir", cobra.BashCompSubdirsInDir, []string{}); err != nil {
		panic(err)
	}
}
