package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded acquisitions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			appCtx, cleanup, err := bootstrap(opts, cmd, true)
			if err != nil {
				return err
			}
			defer cleanup()

			if appCtx.Store == nil {
				return errors.New("history store is not available")
			}

			recs, err := appCtx.Store.ListAcquisitions(cmd.Context(), limit)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTARTED\tMODE\tSTATE\tWRITTEN\tERROR")
			for _, r := range recs {
				errText := ""
				if r.ErrorKind != "" {
					errText = fmt.Sprintf("%s: %s", r.ErrorKind, r.Error)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					r.ID, humanize.Time(r.StartedAt), r.Mode, r.State,
					humanize.IBytes(uint64(r.BytesWritten)), errText)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries to show")
	return cmd
}
