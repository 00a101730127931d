package main

import (
	"fmt"
	"os"

	"github.com/nao1215/sitemirror/internal/config"
	"github.com/nao1215/sitemirror/internal/site"
	"github.com/nao1215/sitemirror/internal/store"
	"github.com/spf13/cobra"
)

// NewCopyToCmd creates the copy-to command.
func NewCopyToCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "copy-to <site-url> <target-url>",
		Short: "Copy a site into the store of another site",
		Long: `Copy-to copies every record of a site into the store of the target site,
rebasing links to the source host onto the target. Records that already
exist in the target are kept unless --overwrite is given.

Example:
  sitemirror copy-to example.com https://staging.example.com/`,
		Args: cobra.ExactArgs(2),
		RunE: runCopyToCmd,
	}
	cmd.Flags().Bool("overwrite", false, "Replace records that already exist in the target")
	cmd.Flags().Bool("reformat", false, "Re-serialize every HTML and XML document")
	return cmd
}

func runCopyToCmd(cmd *cobra.Command, args []string) (err error) {
	overwrite, err := cmd.Flags().GetBool("overwrite")
	if err != nil {
		return err
	}
	reformat, err := cmd.Flags().GetBool("reformat")
	if err != nil {
		return err
	}
	target, err := parseSiteURL(args[1])
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

	root := config.SiteDir(env.cfg.StoreRoot, target)
	if root == env.root {
		return fmt.Errorf("%w: %s", errSameStore, target.Host)
	}
	if err := os.MkdirAll(root, 0750); err != nil {
		return fmt.Errorf("failed to create site directory: %w", err)
	}
	dst, err := store.OpenCurrent(root, store.Options{LockTimeout: env.cfg.LockTimeout, Logger: env.logger})
	if err != nil {
		return fmt.Errorf("failed to open store of %s: %w", target.Host, err)
	}
	defer func() {
		if cerr := dst.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	return env.site.CopyTo(ctx, target, dst, site.CopyOptions{Overwrite: overwrite, Reformat: reformat})
}

// NewSnapshotCmd creates the snapshot command.
func NewSnapshotCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot <site-url> <name>",
		Short: "Copy the store into a new storage version and activate it",
		Long: `Snapshot copies the active store of a site into a new storage version
named after the argument, or name(n) when the name is taken, and makes it
the active version. The previous version stays on disk untouched.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ctx, cancel := signalContext(cmd)
			defer cancel()

			env, err := openSite(cmd, args[0], true)
			if err != nil {
				return err
			}
			defer closeEnv(env, &err)

			version, err := env.site.Snapshot(ctx, env.root, args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Activated version %s\n", version)
			return nil
		},
	}
}

// NewExportCmd creates the export command.
func NewExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <site-url> <dir>",
		Short: "Write the site as plain files",
		Long: `Export writes every stored document below a directory with a file name
derived from its path, or from its title when the path carries a query.
Links between exported documents are rewritten to the new names, relative
to each file unless --rebase gives the URL the export will be served from.

Examples:
  sitemirror export example.com ./out
  sitemirror export example.com ./out --rebase https://cdn.example.net/mirror/`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			rebase, err := cmd.Flags().GetString("rebase")
			if err != nil {
				return err
			}
			reformat, err := cmd.Flags().GetBool("reformat")
			if err != nil {
				return err
			}
			opts := site.ExportOptions{Reformat: reformat}
			if rebase != "" {
				if opts.Rebase, err = parseSiteURL(rebase); err != nil {
					return err
				}
			}

			ctx, cancel := signalContext(cmd)
			defer cancel()

			env, err := openSite(cmd, args[0], true)
			if err != nil {
				return err
			}
			defer closeEnv(env, &err)

			if err := env.site.Export(ctx, args[1], opts); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %s to %s\n", env.url.Host, args[1])
			return nil
		},
	}
	cmd.Flags().String("rebase", "", "Absolute URL the exported files will be served from")
	cmd.Flags().Bool("reformat", false, "Re-serialize every HTML and XML document")
	return cmd
}
