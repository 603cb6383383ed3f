package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"clinicq/internal/config"
)

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Close clinics left open past their hours and expire stale tickets once",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			rt, err := newRuntime(ctx, cfg, cfg.Logger())
			if err != nil {
				return err
			}
			defer rt.close()

			report, err := rt.service.Sweep(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("closed %d clinic(s), expired %d ticket(s)\n", report.Closed, report.Expired)
			return nil
		},
	}
}
