package main

import (
	"fmt"
	"os"

	"github.com/nao1215/sitemirror/internal/config"
	"github.com/nao1215/sitemirror/internal/store"
	"github.com/spf13/cobra"
)

// Exit codes.
const (
	exitError = 1
	// exitFatal reports a store consistency failure.
	exitFatal = 2
)

// NewRootCmd creates the root command for sitemirror.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sitemirror",
		Short: "Mirror websites into a local content store",
		Long: `sitemirror crawls a website into a local content store and keeps the
mirror maintainable: links can be inventoried and rewritten, pages renamed,
removed or deduplicated, documents optimized, and the whole site copied to
another store or exported as plain files.

Each site lives in its own directory below the store root, named after its
host. A site configuration file (sitemirror.yaml) in that directory, in the
current directory or given with --site-config controls exclusions, cookies,
headers and document types. "sitemirror init" writes an annotated one.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringP("store", "s", config.XDGDataDir(),
		"Store root holding one directory per site")
	cmd.PersistentFlags().StringP("site-config", "c", "",
		"Site configuration file (default: sitemirror.yaml in the site directory or current directory)")
	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")
	cmd.PersistentFlags().Bool("log-json", false, "Write logs as JSON")

	cmd.AddCommand(
		NewInitCmd(),
		NewVersionCmd(),
		NewCrawlCmd(),
		NewLsCmd(),
		NewCatCmd(),
		NewLinksCmd(),
		NewLinkSourceCmd(),
		NewRelinkCmd(),
		NewRelinkMatchingCmd(),
		NewRmCmd(),
		NewMvCmd(),
		NewDedupCmd(),
		NewOptimizeCmd(),
		NewCopyToCmd(),
		NewSnapshotCmd(),
		NewExportCmd(),
		NewIndexCmd(),
	)
	return cmd
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps an error to the process exit code.
func exitCode(err error) int {
	if store.IsFatal(err) {
		return exitFatal
	}
	return exitError
}
