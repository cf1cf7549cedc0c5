// Package cli wires configuration, the index and the services into the gxa
// command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mukasc/genexus-ai-assistant/config"
	"github.com/mukasc/genexus-ai-assistant/crawler"
)

type app struct {
	configPath string
	verbose    bool
	logger     *log.Logger

	loadConfig func(path string) (config.Config, error)
	newRuntime func(ctx context.Context, cfg config.Config, logger *log.Logger) (*runtime, error)
	newBrowser func(opts crawler.ChromeOptions) crawler.Browser
}

func defaultApp() *app {
	return &app{
		loadConfig: config.Load,
		newRuntime: newRuntime,
		newBrowser: func(opts crawler.ChromeOptions) crawler.Browser { return crawler.NewChromeBrowser(opts) },
	}
}

// NewRootCommand builds the gxa command tree.
func NewRootCommand() *cobra.Command {
	return newRootCommand(defaultApp())
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "gxa",
		Short: "GeneXus documentation assistant",
		Long: `gxa indexes GeneXus PDF manuals and documentation articles into a vector
index and answers questions grounded on the retrieved passages.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			a.logger = newLogger(cmd.ErrOrStderr(), a.verbose)
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "config file (default gxa.yaml in . or ./config)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "log source file and line")

	root.AddCommand(
		newIngestCommand(a),
		newCrawlCommand(a),
		newInspectCommand(a),
		newChatCommand(a),
		newServeCommand(a),
		newClearCommand(a),
	)
	return root
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", describeError(err))
		return 1
	}
	return 0
}

func newLogger(w io.Writer, verbose bool) *log.Logger {
	flags := log.LstdFlags
	if verbose {
		flags |= log.Lshortfile
	}
	return log.New(w, "", flags)
}

// setup loads the configuration and opens the shared resources. Callers
// must Close the runtime.
func (a *app) setup(cmd *cobra.Command) (*runtime, error) {
	cfg, err := a.loadConfig(a.configPath)
	if err != nil {
		return nil, err
	}
	if a.logger == nil {
		a.logger = newLogger(cmd.ErrOrStderr(), a.verbose)
	}
	return a.newRuntime(cmd.Context(), cfg, a.logger)
}
