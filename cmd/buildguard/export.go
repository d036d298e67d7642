package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"buildguard-desktop/internal/bootstrap"
	"buildguard-desktop/internal/events"
	"buildguard-desktop/internal/export"
	"buildguard-desktop/internal/services/exports"
)

type exportFlags struct {
	profile  string
	kind     string
	id       string
	sub      string
	name     string
	rows     int
	format   string
	out      string
	timeout  time.Duration
	upload   bool
	progress bool
}

func newExportCmd() *cobra.Command {
	var f exportFlags

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a dataset version, repository build history or scenario split",
		Example: `  buildguard export --profile <id> --type repository --id repo-1 --name core-builds --rows 50000 --format json
  buildguard export --profile <id> --type dataset_version --id ds-1 --sub v-3 --name ci-history-v3`,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := f.request()
			if err != nil {
				return err
			}
			if f.out != "" {
				cfg.DownloadDir = f.out
			}

			var emitter events.Emitter = events.Nop{}
			if f.progress {
				emitter = newProgressEmitter(cmd.ErrOrStderr())
			}

			return withServices(emitter, func(ctx context.Context, s *bootstrap.Services) error {
				if f.timeout > 0 {
					var cancel context.CancelFunc
					ctx, cancel = context.WithTimeout(ctx, f.timeout)
					defer cancel()
				}

				state, err := s.Exports.RunHeadless(ctx, req)
				if err != nil {
					return fmt.Errorf("export failed: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), describeFile(state.FilePath))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&f.profile, "profile", "", "Connection profile id (required)")
	cmd.Flags().StringVar(&f.kind, "type", string(export.ResourceRepository), "Resource type: dataset_version, repository or scenario_split")
	cmd.Flags().StringVar(&f.id, "id", "", "Resource id (required)")
	cmd.Flags().StringVar(&f.sub, "sub", "", "Version id or split name")
	cmd.Flags().StringVar(&f.name, "name", "", "File name stem (defaults to the resource id)")
	cmd.Flags().IntVar(&f.rows, "rows", 0, "Row count, used to choose between sync and async export")
	cmd.Flags().StringVar(&f.format, "format", string(export.FormatCSV), "Output format: csv or json")
	cmd.Flags().StringVar(&f.out, "out", "", "Download directory (overrides config)")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "Give up after this long (0 waits indefinitely)")
	cmd.Flags().BoolVar(&f.upload, "upload", false, "Upload the saved file to the configured bucket")
	cmd.Flags().BoolVar(&f.progress, "progress", true, "Draw a progress bar on stderr")
	_ = cmd.MarkFlagRequired("profile")
	_ = cmd.MarkFlagRequired("id")

	return cmd
}

func (f exportFlags) request() (exports.HeadlessRequest, error) {
	name := f.name
	if name == "" {
		name = f.id
	}
	target := export.Target{
		Type:       export.ResourceType(f.kind),
		ResourceID: f.id,
		SubID:      f.sub,
		Name:       name,
		TotalRows:  f.rows,
	}
	if err := target.Validate(); err != nil {
		return exports.HeadlessRequest{}, err
	}
	if _, err := export.ParseFormat(f.format); err != nil {
		return exports.HeadlessRequest{}, err
	}
	return exports.HeadlessRequest{
		ProfileID: f.profile,
		Target:    target,
		Format:    f.format,
		Trigger:   exports.TriggerCLI,
		Upload:    f.upload,
	}, nil
}
