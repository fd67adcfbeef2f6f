package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/md-rashed-zaman/agentcal/libs/config"
	"github.com/md-rashed-zaman/agentcal/libs/db"
	"github.com/md-rashed-zaman/agentcal/libs/runtime"
	"github.com/md-rashed-zaman/agentcal/services/calendar-service/internal/decision"
	"github.com/md-rashed-zaman/agentcal/services/calendar-service/internal/jobs"
	"github.com/md-rashed-zaman/agentcal/services/calendar-service/internal/model"
	"github.com/md-rashed-zaman/agentcal/services/calendar-service/internal/scheduling"
	"github.com/md-rashed-zaman/agentcal/services/calendar-service/internal/storage"
	"github.com/spf13/cobra"
)

func databaseURL(cmd *cobra.Command) (string, error) {
	if err := config.LoadDotEnv(); err != nil {
		return "", err
	}
	if url, _ := cmd.Flags().GetString("database-url"); strings.TrimSpace(url) != "" {
		return url, nil
	}
	return config.RequiredString("DATABASE_URL")
}

// openService builds a scheduling.Service on Postgres for one-shot tasks.
func openService(cmd *cobra.Command) (*scheduling.Service, func(), error) {
	url, err := databaseURL(cmd)
	if err != nil {
		return nil, nil, err
	}
	loc, err := config.Location("CALENDAR_TIMEZONE", "UTC")
	if err != nil {
		return nil, nil, err
	}
	delay, err := config.Seconds("RESCHEDULE_DECISION_DELAY_SECONDS", decision.DefaultDelay)
	if err != nil {
		return nil, nil, err
	}
	policy, err := decision.New(config.String("RESCHEDULE_POLICY", "random"), delay, 0)
	if err != nil {
		return nil, nil, err
	}
	pool, err := db.Open(cmd.Context(), url, db.PoolConfig{MaxConns: 2})
	if err != nil {
		return nil, nil, err
	}
	logger := runtime.NewLogger("calendar-admin")
	svc := scheduling.NewService(storage.NewPostgres(pool, db.DefaultRetryPolicy()), logger, scheduling.Config{
		Location: loc,
		Policy:   policy,
	})
	return svc, pool.Close, nil
}

func regenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "regenerate",
		Short: "Rebuild an agent's slots for a date range",
		RunE: func(cmd *cobra.Command, _ []string) error {
			agentID, _ := cmd.Flags().GetString("agent")
			fromRaw, _ := cmd.Flags().GetString("from")
			days, _ := cmd.Flags().GetInt("days")

			svc, done, err := openService(cmd)
			if err != nil {
				return err
			}
			defer done()

			from := svc.Today()
			if fromRaw != "" {
				if from, err = model.ParseDate(fromRaw); err != nil {
					return err
				}
			}
			if days < 1 {
				return fmt.Errorf("--days must be positive")
			}
			res, err := svc.Regenerate(cmd.Context(), scheduling.RegenerateInput{
				AgentID: agentID,
				From:    from,
				To:      from.AddDate(0, 0, days-1),
			})
			if err != nil {
				return err
			}
			cmd.Printf("slots_created=%d slots_removed=%d orphaned_reservations=%d\n",
				res.SlotsCreated, res.SlotsRemoved, res.OrphanedReservations)
			return nil
		},
	}
	cmd.Flags().String("agent", "", "Agent id")
	cmd.Flags().String("from", "", "First date, YYYY-MM-DD (defaults to today)")
	cmd.Flags().Int("days", scheduling.DefaultHorizonDays, "Number of days to rebuild")
	_ = cmd.MarkFlagRequired("agent")
	return cmd
}

func sweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Decide due reschedule requests and complete past bookings once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			batch, _ := cmd.Flags().GetInt("batch")
			svc, done, err := openService(cmd)
			if err != nil {
				return err
			}
			defer done()

			worker := jobs.NewWorker(svc, runtime.NewLogger("calendar-admin"), jobs.WorkerConfig{
				Interval:  time.Second,
				BatchSize: batch,
			})
			n, err := worker.Tick(cmd.Context())
			if err != nil {
				return err
			}
			cmd.Printf("decided %d reschedule request(s)\n", n)
			return nil
		},
	}
	cmd.Flags().Int("batch", 100, "Maximum requests to decide")
	return cmd
}
