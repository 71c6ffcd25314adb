package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pesio-ai/be-plt-approvals/internal/app"
	"github.com/pesio-ai/be-plt-approvals/internal/platform/config"
	"github.com/pesio-ai/be-plt-approvals/internal/platform/database"
	"github.com/pesio-ai/be-plt-approvals/internal/platform/logger"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
)

type rootOptions struct {
	configDir string
	actor     string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:           "approvalctl",
		Short:         "Operate the approvals service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.configDir, "config", ".", "directory holding config.yaml")
	rootCmd.PersistentFlags().StringVar(&opts.actor, "actor", os.Getenv("APPROVALS_ACTOR"), "acting user id")

	rootCmd.AddCommand(
		newMigrateCmd(opts),
		newSeedCmd(opts),
		newStatusCmd(opts),
		newHistoryCmd(opts),
		newRecordsCmd(opts),
		newSubmitCmd(opts),
		newActCmd(opts),
		newCancelCmd(opts),
		newPendingCmd(opts),
	)
	return rootCmd
}

func loadConfig(opts *rootOptions) (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load(opts.configDir)
	if err != nil {
		return nil, nil, err
	}
	log := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Environment: cfg.Service.Environment,
		ServiceName: "approvalctl",
		Version:     cfg.Service.Version,
		Output:      os.Stderr,
	})
	return cfg, log, nil
}

// withApp runs fn against an engine built from configuration. Commands never
// publish notifications.
func withApp(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, a *app.App) error) error {
	cfg, log, err := loadConfig(opts)
	if err != nil {
		return err
	}
	a, err := app.New(cmd.Context(), cfg, log, false)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(cmd.Context(), a)
}

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if err := database.MigrateUp(cfg.Database.DSN()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Migrations applied successfully")
			return nil
		},
	}

	downCmd := &cobra.Command{
		Use:   "down [steps]",
		Short: "Roll back migrations (all of them when steps is omitted)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps := 0
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n <= 0 {
					return fmt.Errorf("steps must be a positive integer, got %q", args[0])
				}
				steps = n
			}
			cfg, _, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if err := database.MigrateDown(cfg.Database.DSN(), steps); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Migrations rolled back")
			return nil
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(opts)
			if err != nil {
				return err
			}
			version, dirty, err := database.MigrationVersion(cfg.Database.DSN())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty: %t)\n", version, dirty)
			return nil
		},
	}

	migrateCmd.AddCommand(upCmd, downCmd, versionCmd)
	return migrateCmd
}

func newSeedCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "seed <file.yaml>",
		Short: "Load workflows, users and entities into the database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			seed, err := repository.LoadSeed(f)
			if err != nil {
				return err
			}
			if seed == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "Nothing to seed")
				return nil
			}

			cfg, log, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if cfg.Storage.Driver != "postgres" {
				return fmt.Errorf("seed requires the postgres storage driver, got %q", cfg.Storage.Driver)
			}

			db, err := database.New(cmd.Context(), app.DatabaseConfig(cfg.Database))
			if err != nil {
				return err
			}
			defer db.Close()

			if err := seedDatabase(cmd.Context(), db, seed); err != nil {
				return err
			}
			log.Info().
				Int("workflows", len(seed.Workflows)).
				Int("users", len(seed.Users)).
				Int("entities", len(seed.Entities)).
				Msg("Seed applied")
			fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d workflow(s), %d user(s), %d entit(ies)\n",
				len(seed.Workflows), len(seed.Users), len(seed.Entities))
			return nil
		},
	}
}

func seedDatabase(ctx context.Context, db *database.DB, seed *repository.Seed) error {
	workflows := repository.NewWorkflowRepository(db)
	identity := repository.NewIdentityRepository(db)

	return db.RunInTx(ctx, func(ctx context.Context) error {
		for _, wf := range seed.Workflows {
			if err := workflows.Save(ctx, wf); err != nil {
				return fmt.Errorf("workflow %q: %w", wf.Name, err)
			}
		}
		for _, u := range seed.Users {
			if err := identity.Save(ctx, u); err != nil {
				return fmt.Errorf("user %q: %w", u.ID, err)
			}
		}
		for _, e := range seed.Entities {
			repo, err := repository.NewEntityRepository(db, e.Type)
			if err != nil {
				return err
			}
			if err := repo.Create(ctx, e); err != nil {
				return fmt.Errorf("%s %q: %w", e.Type, e.ID, err)
			}
		}
		return nil
	})
}

// entityArgs parses the <type> <id> pair shared by the engine commands.
func entityArgs(args []string) (repository.EntityType, string, error) {
	t, ok := repository.ParseEntityType(args[0])
	if !ok {
		return "", "", fmt.Errorf("unknown entity type %q", args[0])
	}
	return t, args[1], nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <type> <id>",
		Short: "Show an entity's approval status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			entityType, entityID, err := entityArgs(args)
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				st, err := a.Engine.GetStatus(ctx, entityType, entityID)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), st)
			})
		},
	}
}

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var recordID string
	cmd := &cobra.Command{
		Use:   "history <type> <id>",
		Short: "Show the approval history of an entity's current record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			entityType, entityID, err := entityArgs(args)
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				if recordID != "" {
					items, err := a.Engine.GetRecordHistory(ctx, recordID)
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), items)
				}
				items, err := a.Engine.GetHistory(ctx, entityType, entityID)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), items)
			})
		},
	}
	cmd.Flags().StringVar(&recordID, "record", "", "show a specific (earlier) record instead of the current one")
	return cmd
}

func newRecordsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "records <type> <id>",
		Short: "List every approval cycle of an entity, newest first",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			entityType, entityID, err := entityArgs(args)
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				records, err := a.Engine.ListRecords(ctx, entityType, entityID)
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				if len(records) == 0 {
					fmt.Fprintln(w, "No approval records found.")
					return nil
				}
				for _, rec := range records {
					fmt.Fprintf(w, "- %s  %-9s step %d  by %s  %s\n",
						rec.ID, rec.Status, rec.CurrentStep, rec.InitiatorID, rec.CreatedAt.Format("2006-01-02 15:04"))
				}
				return nil
			})
		},
	}
}

func newSubmitCmd(opts *rootOptions) *cobra.Command {
	var workflowID string
	cmd := &cobra.Command{
		Use:   "submit <type> <id>",
		Short: "Submit an entity for approval",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			entityType, entityID, err := entityArgs(args)
			if err != nil {
				return err
			}
			var wf *string
			if workflowID != "" {
				wf = &workflowID
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				st, err := a.Engine.Submit(ctx, entityType, entityID, wf, opts.actor)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), st)
			})
		},
	}
	cmd.Flags().StringVar(&workflowID, "workflow", "", "workflow id (defaults to the active workflow for the type)")
	return cmd
}

func newActCmd(opts *rootOptions) *cobra.Command {
	var comment string
	cmd := &cobra.Command{
		Use:   "act <type> <id> <approve|reject|return>",
		Short: "Act on the current approval step",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			entityType, entityID, err := entityArgs(args)
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				st, err := a.Engine.Act(ctx, entityType, entityID, repository.Action(strings.ToUpper(strings.TrimSpace(args[2]))), comment, opts.actor)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), st)
			})
		},
	}
	cmd.Flags().StringVarP(&comment, "comment", "m", "", "comment recorded in the history")
	return cmd
}

func newCancelCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <type> <id>",
		Short: "Withdraw a pending approval (initiator only)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			entityType, entityID, err := entityArgs(args)
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				st, err := a.Engine.Cancel(ctx, entityType, entityID, opts.actor)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), st)
			})
		},
	}
}

func newPendingCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List approvals the actor may act on",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				pending, err := a.Engine.ListPending(ctx, opts.actor)
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				if len(pending) == 0 {
					fmt.Fprintln(w, "Nothing awaiting your approval.")
					return nil
				}
				for _, st := range pending {
					fmt.Fprintf(w, "- %s %s  %s (step %d/%d: %s)  %d%%\n",
						st.EntityType, st.EntityID, st.WorkflowName, st.CurrentStep, st.TotalSteps, st.CurrentStepName, st.Progress)
				}
				return nil
			})
		},
	}
}
