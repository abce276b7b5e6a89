package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime/pprof"
	"strings"

	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"smalitaint/internal/analysis"
	"smalitaint/internal/logging"
	"smalitaint/internal/pipeline"
	"smalitaint/internal/smalitaint/config"
	"smalitaint/internal/smalitaint/log"
	"smalitaint/internal/smalitaint/styles"
	"smalitaint/internal/ui/colorize"
)

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "smalitaint",
		Short: "Dynamic taint tracking for smali listings",
		Long: `Smalitaint rewrites disassembled Android classes so that every register
carries a taint label at run time. Calls to configured source methods label
their results; calls to sink methods report the labels reaching them.`,
		Example: `
# Rewrite a decoded app
smalitaint instrument -i app/smali -o out/smali -s sources.txt -k sinks.txt

# Only print what would be instrumented
smalitaint analyze -i app/smali -s sources.txt --report.format json

# Browse the rewritten classes
smalitaint view -i app/smali -s sources.txt -k sinks.txt
  `,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			debug, _ := cmd.Flags().GetBool("debug")
			log.Setup(os.Stderr, debug)
			if noColor, _ := cmd.Flags().GetBool("no-color"); noColor {
				colorize.Disable()
			}
			return startProfile(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			pprof.StopCPUProfile()
		},
	}
	root.PersistentFlags().StringP("config", "c", "", "Config file (default ./smalitaint.yaml)")
	root.PersistentFlags().BoolP("debug", "d", false, "Debug")
	root.PersistentFlags().Bool("no-color", false, "Disable highlighting")
	root.PersistentFlags().String("cpuprofile", "", "Write CPU profile to file")

	root.AddCommand(
		newInstrumentCmd(),
		newAnalyzeCmd(),
		newShowCmd(),
		newViewCmd(),
		newTailCmd(),
		newSchemaCmd(),
	)
	return root
}

func startProfile(cmd *cobra.Command) error {
	path, _ := cmd.Flags().GetString("cpuprofile")
	if path == "" {
		return nil
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("could not create CPU profile: %w", err)
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		f.Close()
		return fmt.Errorf("could not start CPU profile: %w", err)
	}
	return nil
}

// Execute runs the command line. Output that is not a terminal skips fang's
// styled help and errors.
func Execute() {
	root := NewRootCmd()
	if !term.IsTerminal(os.Stdout.Fd()) {
		colorize.Disable()
		if err := root.Execute(); err != nil {
			os.Exit(1)
		}
		return
	}
	if err := fang.Execute(
		context.Background(),
		root,
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		os.Exit(1)
	}
}

// runFlags adds the flags shared by every command that walks a tree.
func runFlags(cmd *cobra.Command) {
	cmd.Flags().AddFlagSet(config.BuildFlagSet(cmd.Name(), config.RunDefs...))
}

// loadConfig resolves the configuration for cmd from its flags, the
// environment and the config file.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	file, _ := cmd.Flags().GetString("config")
	v, err := config.New(file)
	if err != nil {
		return config.Config{}, err
	}
	if err := config.Bind(v, cmd.Flags(), config.All...); err != nil {
		return config.Config{}, err
	}
	c := config.Decode(v)
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		c.Log.Level = "debug"
	}
	return c, c.Validate()
}

// newLogger returns the run logger at the configured level.
func newLogger(c config.Config) *logging.LoggerCloser {
	lg := logging.NewLogger()
	lg.SetLevel(logging.ParseLevel(c.Log.Level))
	return lg
}

func pipelineConfig(c config.Config, lg *logging.LoggerCloser) (pipeline.Config, error) {
	ts, err := c.Strategy()
	if err != nil {
		return pipeline.Config{}, err
	}
	return pipeline.Config{
		Input:       c.Input,
		Output:      c.Output,
		Sources:     c.Sources,
		Sinks:       c.Sinks,
		Tool:        ts,
		Concurrency: c.Concurrency,
		Logger:      lg.Logger,
	}, nil
}

// writeReport encodes rep to the configured file, or to w. Markdown sent to
// a terminal is rendered.
func writeReport(w io.Writer, c config.Config, rep *analysis.Report) error {
	data, err := rep.Encode(c.Report.Format)
	if err != nil {
		return err
	}
	if c.Report.Path != "" {
		return os.WriteFile(c.Report.Path, data, 0o644)
	}
	if isMarkdown(c.Report.Format) && colorize.Enabled() && isTerminal(w) {
		out, err := styles.RenderMarkdown(string(data), terminalWidth())
		if err == nil {
			data = []byte(out + "\n")
		}
	}
	_, err = w.Write(data)
	return err
}

func isMarkdown(format string) bool {
	f := strings.ToLower(format)
	return f == "md" || f == "markdown"
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(f.Fd())
}

func terminalWidth() int {
	w, _, err := term.GetSize(os.Stdout.Fd())
	if err != nil || w <= 0 {
		return styles.DefaultWidth
	}
	return w
}
