package cmd

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"smalitaint/internal/pipeline"
	"smalitaint/internal/smalitaint/styles"
	"smalitaint/internal/ui/colorize"
)

func newShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <file.smali>",
		Short: "Print the rewritten form of one listing",
		Long: `Analyze the whole input tree, rewrite the given listing and print it
highlighted. Nothing is written to disk.`,
		Example: `
# Show a class with inserted lines marked
smalitaint show -i app/smali -s sources.txt -k sinks.txt --marks app/smali/com/app/Leak.smali
  `,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			target, err := filepath.Abs(args[0])
			if err != nil {
				return fmt.Errorf("failed to resolve path: %w", err)
			}
			marks, _ := cmd.Flags().GetBool("marks")

			lg := newLogger(c)
			defer lg.Close()
			pc, err := pipelineConfig(c, lg)
			if err != nil {
				return err
			}
			pc.Output = ""
			pc.Select = func(p string) bool {
				abs, err := filepath.Abs(p)
				return err == nil && abs == target
			}
			var text string
			pc.Emit = func(_ string, orig, out []string) error {
				text = render(orig, out, marks)
				return nil
			}
			rep, err := pipeline.Run(cmd.Context(), pc)
			if err != nil {
				return err
			}
			if len(rep.Files) == 0 {
				return fmt.Errorf("%s is not a listing under %s", args[0], c.Input)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), text)
			return err
		},
	}
	runFlags(cmd)
	cmd.Flags().BoolP("marks", "m", false, "Mark inserted and edited lines")
	return cmd
}

// render highlights a rewritten listing, optionally with a change gutter.
func render(orig, out []string, marks bool) string {
	lines := colorize.Lines(out)
	if !marks {
		return strings.Join(lines, "\n")
	}
	changed := colorize.Changed(orig, out)
	var b strings.Builder
	for i, l := range lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		if colorize.Enabled() {
			b.WriteString(styles.Gutter(changed[i]))
		} else if changed[i] {
			b.WriteString("+ ")
		} else {
			b.WriteString("  ")
		}
		b.WriteString(l)
	}
	return b.String()
}
