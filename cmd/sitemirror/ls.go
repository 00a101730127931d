package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/nao1215/sitemirror/internal/report"
	"github.com/spf13/cobra"
)

// NewLsCmd creates the ls command.
func NewLsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ls <site-url>",
		Short: "List the records of a site",
		Long: `Ls lists the records stored for a site in key order, with status,
content type and size, followed by a summary.

Examples:
  sitemirror ls example.com
  sitemirror ls example.com --prefix /docs/ --long
  sitemirror ls example.com --format markdown > listing.md`,
		Args: cobra.ExactArgs(1),
		RunE: runLsCmd,
	}

	cmd.Flags().String("prefix", "", "Only list keys starting with this prefix")
	cmd.Flags().StringP("format", "f", report.FormatText, "Output format: text, markdown or json")
	cmd.Flags().BoolP("long", "l", false, "Show crawl time and ETag (text format)")
	return cmd
}

func runLsCmd(cmd *cobra.Command, args []string) (err error) {
	prefix, err := cmd.Flags().GetString("prefix")
	if err != nil {
		return err
	}
	format, err := cmd.Flags().GetString("format")
	if err != nil {
		return err
	}
	long, err := cmd.Flags().GetBool("long")
	if err != nil {
		return err
	}

	w, err := reportWriter(cmd, format, long)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	env, err := openSite(cmd, args[0], true)
	if err != nil {
		return err
	}
	defer closeEnv(env, &err)

	recs, err := env.site.Records(ctx, prefix)
	if err != nil {
		return err
	}
	_, err = w.WriteListing(report.NewListing(env.site.Base().String(), recs, time.Now()))
	return err
}

// reportWriter returns the writer for format on the command output.
func reportWriter(cmd *cobra.Command, format string, long bool) (report.Writer, error) {
	out := cmd.OutOrStdout()
	if long && (format == "" || strings.EqualFold(format, report.FormatText)) {
		return report.NewTextWriter(out, report.WithLong(true)), nil
	}
	w, err := report.NewWriter(format, out)
	if err != nil {
		return nil, fmt.Errorf("%w (available: text, markdown, json)", err)
	}
	return w, nil
}

// NewCatCmd creates the cat command.
func NewCatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cat <site-url> <path>",
		Short: "Print the stored body of a page",
		Long: `Cat writes the decompressed body stored for a path to standard output.
The path may also be an absolute URL on the site.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ctx, cancel := signalContext(cmd)
			defer cancel()

			env, err := openSite(cmd, args[0], true)
			if err != nil {
				return err
			}
			defer closeEnv(env, &err)

			_, content, err := env.site.Content(ctx, args[1])
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(content)
			return err
		},
	}
}

// openOutput opens path for writing. "-" and "" mean the command output.
func openOutput(cmd *cobra.Command, path string) (io.WriteCloser, error) {
	if path == "" || path == "-" {
		return nopCloser{cmd.OutOrStdout()}, nil
	}
	f, err := os.Create(path) //nolint:gosec // user-provided output path
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", path, err)
	}
	return f, nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
