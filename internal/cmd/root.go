package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

// exitCodeError carries a non-zero process exit code out of a command.
type exitCodeError struct {
	code int
}

func (e *exitCodeError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

// NewRootCmd creates the root cobra command. Without a subcommand it serves.
func NewRootCmd(v string) *cobra.Command {
	version = v

	root := &cobra.Command{
		Use:           "liverelay",
		Short:         "Realtime voice relay between browsers and the Gemini Live API",
		RunE:          runServe,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newVersionCmd())

	root.PersistentFlags().StringP("config", "c", "", "path to config file")
	root.PersistentFlags().String("host", "", "listen host")
	root.PersistentFlags().Int("port", 0, "listen port")
	root.PersistentFlags().Bool("debug", false, "enable debug logging")

	return root
}

// Execute runs the CLI and returns the process exit code.
func Execute(v string) int {
	if err := NewRootCmd(v).Execute(); err != nil {
		var exit *exitCodeError
		if errors.As(err, &exit) {
			return exit.code
		}
		_, _ = fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}
