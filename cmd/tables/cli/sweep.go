package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/grebion/tables/internal/sweeper"
)

func newSweepCmd() *cobra.Command {
	var (
		age    time.Duration
		status bool
	)

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete orphan tables now",
		Long: `Run one sweep: delete tables that never got an owner and are older than
--age. The server runs the same sweep periodically when sweeper.enabled is set.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if status {
				last, err := sweeper.LastRun(ctx, a.store)
				if err != nil {
					return err
				}
				if last.IsZero() {
					fmt.Println("The sweeper has never run.")
				} else {
					fmt.Printf("Last sweep: %s (%s ago)\n", last.Local().Format(time.RFC1123), time.Since(last).Round(time.Second))
				}
				return nil
			}

			if !cmd.Flags().Changed("age") {
				age = parseDuration(a.cfg.Sweeper.OrphanAge, sweeper.DefaultOrphanAge)
			}
			sw := sweeper.New(a.tables, a.store, 0, age, a.logger)
			if sw == nil {
				return fmt.Errorf("the sweeper is disabled by TABLES_SWEEPER")
			}
			n, err := sw.RunOnce(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Deleted %d orphan table(s)\n", n)
			return nil
		},
	}

	cmd.Flags().DurationVar(&age, "age", sweeper.DefaultOrphanAge, "Minimum age of an orphan table")
	cmd.Flags().BoolVar(&status, "status", false, "Only report when the last sweep ran")

	return cmd
}
