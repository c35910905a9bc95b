package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func (a *app) indexCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "index [dir]",
		Short: "Embed and store every .txt file in a directory",
		Long: `Read every .txt file directly inside dir (default: corpus.dir from the
config), embed it and store it under a content-derived key. Re-indexing an
unchanged file overwrites its entry.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := a.cfg.Corpus.Dir
			if len(args) == 1 {
				dir = args[0]
			}

			svc, cleanup, err := a.service()
			if err != nil {
				return err
			}
			defer cleanup()

			res, err := svc.Index(cmd.Context(), dir)
			if res != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "Read %d documents, stored %d\n", res.Read, res.Stored)
			}
			return err
		},
	}
}
