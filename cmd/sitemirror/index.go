package main

import (
	"fmt"

	"github.com/nao1215/sitemirror/internal/search"
	"github.com/spf13/cobra"
)

// NewIndexCmd creates the index command.
func NewIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index <site-url>",
		Short: "Extract a search index from the stored pages",
		Long: `Index extracts title, description and text of every stored HTML page with
status 200 and writes one JSON document per line, ready to be loaded into a
search engine.

Examples:
  sitemirror index example.com > index.jsonl
  sitemirror index example.com -o index.jsonl`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			output, err := cmd.Flags().GetString("output")
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

			w, err := openOutput(cmd, output)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := w.Close(); cerr != nil && err == nil {
					err = cerr
				}
			}()

			n, err := search.Build(ctx, env.store, env.site.Types(), search.NewJSONLinesIndexer(w),
				search.WithBase(env.site.Base()),
				search.WithLogger(env.logger),
			)
			env.logger.Info("index built", "documents", n)
			if err != nil {
				return fmt.Errorf("failed to build index: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringP("output", "o", "-", "Output file (- for standard output)")
	return cmd
}
