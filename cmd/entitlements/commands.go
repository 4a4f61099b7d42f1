package main

import (
	"fmt"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/entitlements/internal/app"
	"github.com/dmitrymomot/entitlements/pkg/auth"
	"github.com/dmitrymomot/entitlements/pkg/config"
	"github.com/dmitrymomot/entitlements/pkg/logger"
)

func newRootCmd() *cobra.Command {
	var envFiles []string

	root := &cobra.Command{
		Use:           "entitlements",
		Short:         "Subscription lifecycle and entitlement service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			if len(envFiles) > 0 {
				config.UseEnvFiles(envFiles...)
			}
		},
	}
	root.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "dotenv files to load (default .env)")

	root.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newReconcileCmd(),
		newDLQCmd(),
		newTokenCmd(),
	)
	return root
}

// setup loads configuration and the logger shared by every command.
func setup() (app.Config, *slog.Logger, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return app.Config{}, nil, err
	}
	log := app.NewLogger(cfg)
	logger.SetAsDefault(log)
	return cfg, log, nil
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, queue worker and scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			a, err := app.New(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(); err != nil {
					log.Error("failed to release resources", logger.Error(err))
				}
			}()
			return a.Serve(cmd.Context())
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, log, err := setup()
			if err != nil {
				return err
			}
			return app.Migrate(cmd.Context(), log)
		},
	}
}

func newReconcileCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Expire lapsed end-of-period cancellations once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			a, err := app.New(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			if dryRun {
				due, err := a.Reconciler.Due(cmd.Context())
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "USER\tPLAN\tEND DATE")
				for _, rec := range due {
					fmt.Fprintf(w, "%s\t%s\t%s\n", rec.UserID, rec.Plan, rec.EndDate.Format(time.RFC3339))
				}
				return w.Flush()
			}

			n, err := a.Reconciler.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "expired %d subscription(s)\n", n)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "list due subscriptions without changing them")
	return cmd
}

func newDLQCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "List tasks that exhausted their retries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			a, err := app.New(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			dead, err := a.DeadTasks(cmd.Context(), limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TASK\tNAME\tRETRIES\tFAILED AT\tERROR")
			for _, d := range dead {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", d.TaskID, d.TaskName, d.RetryCount, d.FailedAt.Format(time.RFC3339), d.Error)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of tasks to list")
	return cmd
}

func newTokenCmd() *cobra.Command {
	var userID, role string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed access token for local testing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.LoadConfig()
			if err != nil {
				return err
			}
			v, err := auth.NewVerifier(cfg.Auth)
			if err != nil {
				return err
			}
			token, err := v.Issue(auth.Identity{UserID: userID, Role: role})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "subject user id")
	cmd.Flags().StringVar(&role, "role", "user", "role claim: visitor, user, premium or admin")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
