package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"bootcamptracker/internal/app"
	"bootcamptracker/internal/clock"
	"bootcamptracker/internal/config"
	"bootcamptracker/internal/logging"
	"bootcamptracker/internal/store"
	"bootcamptracker/internal/user"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "admin",
		Short:         "Operational tasks for the bootcamp tracker",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		migrateCmd(),
		seedCmd("seed-admin", "Create the default admin account", user.DefaultAdmins),
		seedCmd("seed-super-admin", "Create the default super admin account", user.DefaultSuperAdmins),
		seedCmd("seed-srm", "Create the default student relationship managers", user.DefaultSRMs),
		markAbsentCmd(),
	)
	return root
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create database tables and indexes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			db, err := store.NewDB(cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := db.Migrate(cmd.Context()); err != nil {
				return err
			}
			logging.New("admin").Info("migrations applied")
			return nil
		},
	}
}

func seedCmd(use, short string, users []user.User) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, _ []string) error {
			deps, err := app.Build(cmd.Context(), config.Load())
			if err != nil {
				return err
			}
			defer deps.Close()
			n, err := user.Seed(cmd.Context(), deps.Users, logging.New("seed"), users...)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %d of %d users\n", n, len(users))
			return nil
		},
	}
}

func markAbsentCmd() *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "mark-absent",
		Short: "Mark students without a record on a day as absent (default: yesterday)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var target *time.Time
			if date != "" {
				t, err := time.ParseInLocation("2006-01-02", date, clock.Zone)
				if err != nil {
					return fmt.Errorf("--date must be YYYY-MM-DD: %w", err)
				}
				target = &t
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()
			deps, err := app.Build(ctx, config.Load())
			if err != nil {
				return err
			}
			defer deps.Close()
			res, err := deps.Attendance.SweepAbsences(ctx, target)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d students, %d already recorded, %d marked absent\n",
				res.TargetDate.Format("2006-01-02"), res.TotalStudents, res.StudentsWithAttendance, res.StudentsMarkedAbsent)
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "local day to sweep, YYYY-MM-DD in UTC+6")
	return cmd
}
