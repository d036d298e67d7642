package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"buildguard-desktop/internal/bootstrap"
	"buildguard-desktop/internal/events"
)

func newHistoryCmd() *cobra.Command {
	var (
		format string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print recent export runs as a table, csv or json",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(events.Nop{}, func(ctx context.Context, s *bootstrap.Services) error {
				if format == "table" {
					entries, err := s.Exports.ListExportHistory(limit)
					if err != nil {
						return err
					}
					renderTable(cmd.OutOrStdout(),
						[]string{"Resource", "Format", "Mode", "Status", "Trigger", "Started", "Summary"},
						historyRows(entries, time.Now()))
					return nil
				}

				out, err := s.Exports.ExportHistory(format, limit)
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), out)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&format, "format", "table", "Output format: table, csv or json")
	cmd.Flags().IntVar(&limit, "limit", 50, "Number of runs")

	return cmd
}
