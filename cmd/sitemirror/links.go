package main

import (
	"fmt"
	"regexp"
	"time"

	"github.com/nao1215/sitemirror/internal/report"
	"github.com/spf13/cobra"
)

// NewLinksCmd creates the links command.
func NewLinksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "links <site-url>",
		Short: "List every link found in the site's documents",
		Long: `Links parses every stored document and prints each distinct link target
with the number of references to it. Links to other hosts are included.`,
		Args: cobra.ExactArgs(1),
		RunE: runLinksCmd,
	}
	cmd.Flags().StringP("format", "f", report.FormatText, "Output format: text, markdown or json")
	return cmd
}

func runLinksCmd(cmd *cobra.Command, args []string) (err error) {
	format, err := cmd.Flags().GetString("format")
	if err != nil {
		return err
	}
	w, err := reportWriter(cmd, format, false)
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

	links, err := env.site.Links(ctx)
	if err != nil {
		return err
	}
	_, err = w.WriteLinks(report.NewLinkReport(env.site.Base().String(), links, time.Now()))
	return err
}

// NewLinkSourceCmd creates the link-source command.
func NewLinkSourceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "link-source <site-url> <link>",
		Short: "List the pages that reference a link",
		Long: `Link-source prints the key of every stored document containing a link
to the given target. Relative targets are resolved against the site root.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ctx, cancel := signalContext(cmd)
			defer cancel()

			env, err := openSite(cmd, args[0], true)
			if err != nil {
				return err
			}
			defer closeEnv(env, &err)

			sources, err := env.site.LinkSources(ctx, args[1])
			if err != nil {
				return err
			}
			for _, src := range sources {
				fmt.Fprintln(cmd.OutOrStdout(), src)
			}
			return nil
		},
	}
}

// NewRelinkCmd creates the relink command.
func NewRelinkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "relink <site-url> <source> <target>",
		Short: "Replace every link to source with target",
		Long: `Relink rewrites every stored document so that links to source point to
target instead. Both are resolved against the site root.

Example:
  sitemirror relink example.com /old-page /new-page`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ctx, cancel := signalContext(cmd)
			defer cancel()

			env, err := openSite(cmd, args[0], false)
			if err != nil {
				return err
			}
			defer closeEnv(env, &err)

			return env.site.Relink(ctx, args[1], args[2])
		},
	}
}

// NewRelinkMatchingCmd creates the relink-matching command.
func NewRelinkMatchingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "relink-matching <site-url> <regexp> <target>",
		Short: "Replace every link matching an expression with target",
		Long: `Relink-matching rewrites every link whose absolute URL matches the
regular expression so that it points to target.

Example:
  sitemirror relink-matching example.com '^https://example\.com/old/' /archive/`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			expr, err := regexp.Compile(args[1])
			if err != nil {
				return fmt.Errorf("invalid expression %q: %w", args[1], err)
			}

			ctx, cancel := signalContext(cmd)
			defer cancel()

			env, err := openSite(cmd, args[0], false)
			if err != nil {
				return err
			}
			defer closeEnv(env, &err)

			return env.site.RelinkMatching(ctx, expr, args[2])
		},
	}
}
