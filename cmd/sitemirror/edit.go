package main

import (
	"fmt"

	"github.com/nao1215/sitemirror/internal/optimizer"
	"github.com/spf13/cobra"
)

// NewRmCmd creates the rm command.
func NewRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <site-url> <path>...",
		Short: "Remove pages from the store",
		Long: `Rm deletes the records of the given paths and their stored bodies.
Paths that are not stored are reported and skipped. Links to removed pages
are left as they are; use relink to retarget them.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ctx, cancel := signalContext(cmd)
			defer cancel()

			env, err := openSite(cmd, args[0], false)
			if err != nil {
				return err
			}
			defer closeEnv(env, &err)

			removed, err := env.site.Remove(ctx, args[1:]...)
			for _, key := range removed {
				fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", key)
			}
			return err
		},
	}
}

// NewMvCmd creates the mv command.
func NewMvCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mv <site-url> <from> <to>",
		Short: "Rename a page",
		Long: `Mv moves the record and body stored at one path to another. The target
must not exist. With --redirect a 301 redirect to the new path is left at
the old one; otherwise links to the old path can be updated with relink.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			redirect, err := cmd.Flags().GetBool("redirect")
			if err != nil {
				return err
			}

			ctx, cancel := signalContext(cmd)
			defer cancel()

			env, err := openSite(cmd, args[0], false)
			if err != nil {
				return err
			}
			defer closeEnv(env, &err)

			return env.site.Rename(ctx, args[1], args[2], redirect)
		},
	}
	cmd.Flags().Bool("redirect", false, "Leave a permanent redirect at the old path")
	return cmd
}

// NewDedupCmd creates the dedup command.
func NewDedupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dedup <site-url>",
		Short: "Collapse pages with identical bodies",
		Long: `Dedup finds records whose stored body equals the body of a record earlier
in key order. Each duplicate becomes a 302 redirect to its original. With
--remove, links to duplicates are retargeted to the originals and the
duplicates are deleted instead.`,
		Args: cobra.ExactArgs(1),
		RunE: runDedupCmd,
	}
	cmd.Flags().Bool("remove", false, "Delete duplicates and relink to the originals")
	cmd.Flags().BoolP("dry-run", "n", false, "Only print the duplicates")
	return cmd
}

func runDedupCmd(cmd *cobra.Command, args []string) (err error) {
	remove, err := cmd.Flags().GetBool("remove")
	if err != nil {
		return err
	}
	dryRun, err := cmd.Flags().GetBool("dry-run")
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	env, err := openSite(cmd, args[0], dryRun)
	if err != nil {
		return err
	}
	defer closeEnv(env, &err)

	dups, err := env.site.FindDuplicates(ctx)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, d := range dups {
		fmt.Fprintf(out, "%s -> %s\n", d.Path, d.Original)
	}
	if len(dups) == 0 {
		fmt.Fprintln(out, "No duplicates found.")
		return nil
	}
	if dryRun {
		return nil
	}
	return env.site.Deduplicate(ctx, dups, remove)
}

// NewOptimizeCmd creates the optimize command.
func NewOptimizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "optimize <site-url>",
		Short: "Apply the optimize rules of the site configuration",
		Long: `Optimize rewrites stored documents with the optimize rules of their
document type: elements selected by xpath are removed or replaced and text
matches are substituted. Links become relative where the type allows it.
With --condense, every HTML and XML document is re-serialized even when no
rule applied.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			condense, err := cmd.Flags().GetBool("condense")
			if err != nil {
				return err
			}
			page, err := cmd.Flags().GetString("page")
			if err != nil {
				return err
			}

			ctx, cancel := signalContext(cmd)
			defer cancel()

			env, err := openSite(cmd, args[0], false)
			if err != nil {
				return err
			}
			defer closeEnv(env, &err)

			o := optimizer.New(env.site.Base(), env.site.Types(), env.store,
				optimizer.WithCondense(condense),
				optimizer.WithLogger(env.logger),
			)
			if page == "" {
				return o.OptimizeAll(ctx)
			}
			key, err := env.site.Key(page)
			if err != nil {
				return err
			}
			return o.OptimizePage(ctx, key)
		},
	}
	cmd.Flags().Bool("condense", false, "Re-serialize every tree document")
	cmd.Flags().String("page", "", "Only optimize this path")
	return cmd
}
