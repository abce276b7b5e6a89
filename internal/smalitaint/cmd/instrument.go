package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"smalitaint/internal/pipeline"
)

func newInstrumentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "instrument",
		Short: "Rewrite a tree of smali listings",
		Long: `Analyze every listing under the input directory, decide which methods
carry taint, and write the rewritten listings to the output directory.`,
		Example: `
# Full tracking with eight workers
smalitaint instrument -i app/smali -o out/smali -s sources.txt -k sinks.txt -j 8

# Method-entry coverage only
smalitaint instrument -i app/smali -o out/smali -s sources.txt -t coverage
  `,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if c.Output == "" {
				return errors.New("no output directory")
			}
			lg := newLogger(c)
			defer lg.Close()

			pc, err := pipelineConfig(c, lg)
			if err != nil {
				return err
			}
			rep, err := pipeline.Run(cmd.Context(), pc)
			if err != nil {
				return err
			}
			return writeReport(cmd.OutOrStdout(), c, rep)
		},
	}
	runFlags(cmd)
	return cmd
}

func newAnalyzeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Report what would be instrumented",
		Long: `Run the analysis pass only and print the plan: which methods get
instrumented, which get taint parameters, and the call statistics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			lg := newLogger(c)
			defer lg.Close()

			pc, err := pipelineConfig(c, lg)
			if err != nil {
				return err
			}
			pc.Output = ""
			pc.AnalyzeOnly = true
			rep, err := pipeline.Run(cmd.Context(), pc)
			if err != nil {
				return err
			}
			return writeReport(cmd.OutOrStdout(), c, rep)
		},
	}
	runFlags(cmd)
	return cmd
}
