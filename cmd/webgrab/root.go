package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// exitError carries a process exit code through cobra's error path.
type exitError struct {
	code int
	err  error
}

// Error implements error.
func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

// Unwrap exposes the underlying error.
func (e *exitError) Unwrap() error {
	return e.err
}

// NewRootCmd creates the root command for webgrab.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webgrab",
		Short: "Recursive web archiver and crawler",
		Long: `webgrab downloads web pages and their resources, optionally recursing
into a full site mirror. Every exchange can be recorded into a WARC
archive, and the crawl state lives in a database file so an interrupted
crawl resumes with the same command line.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags that apply to all commands
	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")

	// Add subcommands
	cmd.AddCommand(NewCrawlCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command, translating errors into the documented
// exit codes: 2 for argument problems, component-specific codes carried by
// exitError, 1 otherwise.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			if ee.err != nil {
				fmt.Fprintln(os.Stderr, ee.err)
			}
			os.Exit(ee.code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
