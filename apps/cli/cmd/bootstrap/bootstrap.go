package bootstrap

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/modernagencysales/gc-member-portal-sub004/apps/cli/cmd/cmdutil"
	"github.com/modernagencysales/gc-member-portal-sub004/platform/go/persistence"
)

// Command groups database bootstrap helpers.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Bootstrap the provisioning schema and tier catalog",
	}

	cmd.AddCommand(schemaCommand())
	cmd.AddCommand(tiersCommand())
	return cmd
}

func schemaCommand() *cobra.Command {
	var seedTiers bool

	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Create the provisioning tables (idempotent)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := cmdutil.Config(cmd)
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: cfg.DatabaseURL})
			if err != nil {
				return fmt.Errorf("init pool: %w", err)
			}
			defer persistence.ClosePool(pool)

			if err := persistence.BootstrapSchema(ctx, pool, cfg.DatabaseSchema, seedTiers); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema %s ready\n", cfg.DatabaseSchema)
			return nil
		},
	}

	cmd.Flags().BoolVar(&seedTiers, "seed-tiers", true, "Insert the default tier catalog when it is empty")
	return cmd
}

func tiersCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tiers",
		Short: "List the tier catalog",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := context.Background()
			store, closeStore, err := openTierStore(ctx, cmd)
			if err != nil {
				return err
			}
			defer closeStore()

			tiers, err := store.List(ctx)
			if err != nil {
				return fmt.Errorf("list tiers: %w", err)
			}

			if len(tiers) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No tiers found. Run `gtm bootstrap schema --seed-tiers`.")
				return nil
			}
			return printTiers(cmd.OutOrStdout(), tiers...)
		},
	}

	cmd.AddCommand(tierShowCommand())
	cmd.AddCommand(tierUpsertCommand())
	return cmd
}

func tierShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <slug>",
		Short: "Show one tier by slug",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			store, closeStore, err := openTierStore(ctx, cmd)
			if err != nil {
				return err
			}
			defer closeStore()

			tier, err := store.GetBySlug(ctx, args[0])
			if err != nil {
				return fmt.Errorf("get tier %q: %w", args[0], err)
			}
			return printTiers(cmd.OutOrStdout(), tier)
		},
	}
}

func tierUpsertCommand() *cobra.Command {
	var rec persistence.TierRecord

	cmd := &cobra.Command{
		Use:   "upsert",
		Short: "Create a tier or update the tier with the same slug",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := context.Background()
			store, closeStore, err := openTierStore(ctx, cmd)
			if err != nil {
				return err
			}
			defer closeStore()

			tier, err := store.Upsert(ctx, rec)
			if err != nil {
				return fmt.Errorf("upsert tier: %w", err)
			}
			return printTiers(cmd.OutOrStdout(), tier)
		},
	}

	cmd.Flags().StringVar(&rec.Slug, "slug", "", "Tier slug (lowercase words joined by dashes)")
	cmd.Flags().StringVar(&rec.Name, "name", "", "Display name")
	cmd.Flags().IntVar(&rec.DomainCount, "domains", 0, "Domains included in the tier")
	cmd.Flags().IntVar(&rec.MailboxesPerDomain, "mailboxes", 2, "Mailboxes per domain")
	cmd.Flags().Int64Var(&rec.SetupFeeCents, "setup-cents", 0, "One-time setup fee in cents")
	cmd.Flags().Int64Var(&rec.MonthlyFeeCents, "monthly-cents", 0, "Monthly fee in cents")
	cmd.Flags().IntVar(&rec.SortOrder, "sort", 0, "Position in the catalog")
	_ = cmd.MarkFlagRequired("slug")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("domains")
	return cmd
}

func openTierStore(ctx context.Context, cmd *cobra.Command) (*persistence.TierStore, func(), error) {
	cfg, err := cmdutil.Config(cmd)
	if err != nil {
		return nil, nil, err
	}

	pool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: cfg.DatabaseURL})
	if err != nil {
		return nil, nil, fmt.Errorf("init pool: %w", err)
	}

	store, err := persistence.NewTierStore(pool, cfg.DatabaseSchema)
	if err != nil {
		persistence.ClosePool(pool)
		return nil, nil, err
	}
	return store, func() { persistence.ClosePool(pool) }, nil
}

func printTiers(w io.Writer, tiers ...persistence.TierRecord) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SLUG\tNAME\tDOMAINS\tMAILBOXES/DOMAIN\tSETUP\tMONTHLY")
	for _, t := range tiers {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\n", t.Slug, t.Name, t.DomainCount, t.MailboxesPerDomain, dollars(t.SetupFeeCents), dollars(t.MonthlyFeeCents))
	}
	return tw.Flush()
}

func dollars(cents int64) string {
	return fmt.Sprintf("$%d.%02d", cents/100, cents%100)
}
