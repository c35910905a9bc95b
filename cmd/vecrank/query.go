package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/orneryd/vecrank/pkg/similarity"
)

// snippetLen bounds the document text shown per hit.
const snippetLen = 60

func (a *app) queryCommand() *cobra.Command {
	var (
		backend string
		top     int
	)

	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Rank stored documents against a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := a.cfg.EngineKind()
			if backend != "" {
				k, err := similarity.ParseKind(backend)
				if err != nil {
					return err
				}
				kind = k
			}
			if !cmd.Flags().Changed("top") {
				top = a.cfg.Engine.TopK
			}

			svc, cleanup, err := a.service()
			if err != nil {
				return err
			}
			defer cleanup()

			res, err := svc.Query(cmd.Context(), strings.Join(args, " "), kind, top)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Request %s: %d of %d documents on %s\n", res.RequestID, len(res.Hits), res.Candidates, kind)
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "RANK\tSCORE\tKEY\tTEXT")
			for i, hit := range res.Hits {
				fmt.Fprintf(w, "%d\t%.4f\t%s\t%s\n", i+1, hit.Score, hit.ID, snippet(hit.Text))
			}
			w.Flush()
			for _, rej := range res.Rejected {
				fmt.Fprintf(out, "skipped %s: %v\n", rej.ID, rej.Err)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&backend, "backend", "b", "", "scoring backend (cpu, accelerator)")
	cmd.Flags().IntVarP(&top, "top", "k", 10, "number of results, 0 for all")
	return cmd
}

// snippet returns the first line of text, shortened for display.
func snippet(text string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(text), "\n")
	if r := []rune(line); len(r) > snippetLen {
		return string(r[:snippetLen-1]) + "…"
	}
	return line
}
