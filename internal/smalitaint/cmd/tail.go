package cmd

import (
	"github.com/spf13/cobra"

	"smalitaint/internal/logging"
)

func newTailCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tail [log file]",
		Short: "Follow a run log",
		Long: `Print a log written with SMALITAINT_LOG_TO_FILE=1 and keep following it.
Without an argument the newest log in the log directory is used.`,
		Example: `
# Follow the newest log in the current directory
smalitaint tail

# Print a log once
smalitaint tail --follow=false smalitaint-20260101-120000.log
  `,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			follow, _ := cmd.Flags().GetBool("follow")
			path := ""
			if len(args) == 1 {
				path = args[0]
			} else {
				dir, _ := cmd.Flags().GetString("dir")
				p, err := logging.LatestLogFile(dir)
				if err != nil {
					return err
				}
				path = p
			}
			return logging.Follow(cmd.Context(), path, cmd.OutOrStdout(), follow)
		},
	}
	cmd.Flags().BoolP("follow", "f", true, "Keep waiting for new lines")
	cmd.Flags().String("dir", ".", "Directory holding the logs")
	return cmd
}
