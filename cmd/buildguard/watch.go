package main

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/spf13/cobra"

	"buildguard-desktop/internal/bootstrap"
)

// lineEmitter writes each event payload as one JSON line
type lineEmitter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func newLineEmitter(w io.Writer) *lineEmitter {
	return &lineEmitter{enc: json.NewEncoder(w)}
}

func (e *lineEmitter) Emit(name string, payload interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	_ = e.enc.Encode(payload)
}

func newWatchCmd() *cobra.Command {
	var profile string

	cmd := &cobra.Command{
		Use:     "watch <path>",
		Short:   "Follow a backend event stream and print updates as JSON lines",
		Example: `  buildguard watch --profile <id> scenarios/sc-1/progress`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(newLineEmitter(cmd.OutOrStdout()), func(ctx context.Context, s *bootstrap.Services) error {
				if _, err := s.Live.Watch(profile, args[0]); err != nil {
					return err
				}
				<-ctx.Done()
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&profile, "profile", "", "Connection profile id (required)")
	_ = cmd.MarkFlagRequired("profile")

	return cmd
}
