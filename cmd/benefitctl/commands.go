package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/tuition-hub/benefit-resolver/internal/application/command"
	"github.com/tuition-hub/benefit-resolver/internal/infrastructure/persistence/postgres"
)

// output writes v as JSON with --json, otherwise through render.
func (a *app) output(cmd *cobra.Command, v any, render func()) error {
	if a.jsonOutput {
		return writeJSON(cmd.OutOrStdout(), v)
	}
	render()
	return nil
}

func resolveCmd(a *app) *cobra.Command {
	var (
		file       string
		nationalID string
		fullName   string
		periods    []string
		benefitID  string
		percentage string
	)

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve one student for a non-family benefit",
		Example: `  benefitctl resolve --national-id 0102030405 --period 2024-1=1/2024 --benefit sports
  benefitctl resolve -f request.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var req command.ResolveCandidateCommand
			if file != "" {
				if err := readJSON(file, cmd.InOrStdin(), &req); err != nil {
					return err
				}
			} else {
				parsed, err := parsePeriods(periods)
				if err != nil {
					return err
				}
				pct, err := parsePercentage(percentage)
				if err != nil {
					return err
				}
				req = command.ResolveCandidateCommand{
					Student: command.StudentRequest{StudentCriteria: command.StudentCriteria{
						NationalID: nationalID,
						FullName:   fullName,
					}},
					Periods:          parsed,
					BenefitID:        benefitID,
					CustomPercentage: pct,
				}
			}

			ctx, cancel := a.commandContext(cmd)
			defer cancel()
			c, err := a.connect(ctx)
			if err != nil {
				return err
			}

			row, err := c.ResolveCandidate.Handle(ctx, req)
			if err != nil {
				return err
			}
			return a.output(cmd, row, func() {
				renderRows(cmd.OutOrStdout(), []command.CandidateRow{row})
			})
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Read the request from a JSON file (- for stdin)")
	cmd.Flags().StringVar(&nationalID, "national-id", "", "Student national ID")
	cmd.Flags().StringVar(&fullName, "name", "", "Student full name")
	cmd.Flags().StringArrayVarP(&periods, "period", "p", nil, "Academic period as id=name, repeatable")
	cmd.Flags().StringVarP(&benefitID, "benefit", "b", "", "Benefit to assign")
	cmd.Flags().StringVar(&percentage, "percentage", "", "Discount fraction for custom benefits, e.g. 0.4")

	return cmd
}

func batchCmd(a *app) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Resolve many students independently",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var req command.ResolveBatchCommand
			if err := readJSON(file, cmd.InOrStdin(), &req); err != nil {
				return err
			}

			ctx, cancel := a.commandContext(cmd)
			defer cancel()
			c, err := a.connect(ctx)
			if err != nil {
				return err
			}

			result, err := c.ResolveBatch.Handle(ctx, req)
			if err != nil {
				return err
			}
			return a.output(cmd, result, func() { renderBatch(cmd.OutOrStdout(), result) })
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON request file (- for stdin)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func familyCmd(a *app) *cobra.Command {
	var (
		file  string
		order []string
	)

	cmd := &cobra.Command{
		Use:   "family",
		Short: "Resolve a family group and assign tiered discounts",
		Long: `Resolves every member of a family-support request, ranks them by
credit weight and assigns the tier table. Members with equal credit weight
need an explicit order, given with --order or manual_order in the request.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var req command.ResolveFamilyCommand
			if err := readJSON(file, cmd.InOrStdin(), &req); err != nil {
				return err
			}
			if len(order) > 0 {
				req.ManualOrder = order
			}

			ctx, cancel := a.commandContext(cmd)
			defer cancel()
			c, err := a.connect(ctx)
			if err != nil {
				return err
			}

			result, err := c.ResolveFamily.Handle(ctx, req)
			if err != nil {
				return err
			}
			return a.output(cmd, result, func() { renderFamily(cmd.OutOrStdout(), result) })
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON request file (- for stdin)")
	cmd.Flags().StringSliceVar(&order, "order", nil, "National IDs in the order tied members take")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func conflictsCmd(a *app) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "Check candidate benefits against active records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var req command.CheckConflictsCommand
			if err := readJSON(file, cmd.InOrStdin(), &req); err != nil {
				return err
			}

			ctx, cancel := a.commandContext(cmd)
			defer cancel()
			c, err := a.connect(ctx)
			if err != nil {
				return err
			}

			report, err := c.CheckConflicts.Handle(ctx, req)
			if err != nil {
				return err
			}
			return a.output(cmd, report, func() { renderConflicts(cmd.OutOrStdout(), report) })
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON request file (- for stdin)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func commitCmd(a *app) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "commit",
		Short: "Persist resolved candidates for a period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var req command.CommitBenefitsCommand
			if err := readJSON(file, cmd.InOrStdin(), &req); err != nil {
				return err
			}

			ctx, cancel := a.commandContext(cmd)
			defer cancel()
			c, err := a.connect(ctx)
			if err != nil {
				return err
			}

			result, err := c.CommitBenefits.Handle(ctx, req)
			if err != nil {
				return err
			}
			return a.output(cmd, result, func() { renderCommit(cmd.OutOrStdout(), result) })
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON request file (- for stdin)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func benefitsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "benefits",
		Short: "List active benefit definitions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.commandContext(cmd)
			defer cancel()
			c, err := a.connect(ctx)
			if err != nil {
				return err
			}

			benefits, err := c.Benefits.ListBenefits(ctx)
			if err != nil {
				return err
			}
			return a.output(cmd, benefits, func() { renderBenefits(cmd.OutOrStdout(), benefits) })
		},
	}
}

func catalogCmd(a *app) *cobra.Command {
	catalog := &cobra.Command{
		Use:   "catalog",
		Short: "Manage the course catalog and tuition rates",
	}

	var syncCmd command.SyncCatalogCommand
	sync := &cobra.Command{
		Use:   "sync",
		Short: "Refresh courses and tuition rates from the academic service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.commandContext(cmd)
			defer cancel()
			c, err := a.connect(ctx)
			if err != nil {
				return err
			}

			result, err := c.SyncCatalog.Handle(ctx, syncCmd)
			if err != nil {
				return err
			}
			return a.output(cmd, result, func() { renderSync(cmd.OutOrStdout(), result) })
		},
	}
	sync.Flags().BoolVar(&syncCmd.SkipCourses, "skip-courses", false, "Do not refresh courses")
	sync.Flags().BoolVar(&syncCmd.SkipRates, "skip-rates", false, "Do not refresh tuition rates")

	catalog.AddCommand(sync)
	return catalog
}

func migrateCmd(a *app) *cobra.Command {
	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Inspect or apply benefit store migrations",
	}

	// status and up must see the schema as it was before this run
	withMigrator := func(cmd *cobra.Command, run func(ctx context.Context, m *postgres.Migrator) error) error {
		a.manualMigrations = true
		ctx, cancel := a.commandContext(cmd)
		defer cancel()
		c, err := a.connect(ctx)
		if err != nil {
			return err
		}
		return run(ctx, c.Migrator)
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "List migrations and whether they are applied",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, m *postgres.Migrator) error {
				migrations, err := m.Status(ctx)
				if err != nil {
					return err
				}
				return a.output(cmd, migrations, func() { renderMigrations(cmd.OutOrStdout(), migrations) })
			})
		},
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, m *postgres.Migrator) error {
				if err := m.Migrate(ctx); err != nil {
					return err
				}
				migrations, err := m.Status(ctx)
				if err != nil {
					return err
				}
				return a.output(cmd, migrations, func() { renderMigrations(cmd.OutOrStdout(), migrations) })
			})
		},
	}

	migrate.AddCommand(status, up)
	return migrate
}
