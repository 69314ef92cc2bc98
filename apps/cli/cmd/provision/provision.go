package provision

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/modernagencysales/gc-member-portal-sub004/apps/cli/cmd/cmdutil"
	"github.com/modernagencysales/gc-member-portal-sub004/apps/internal/stack"
	"github.com/modernagencysales/gc-member-portal-sub004/domains/provisions/be/engine"
	"github.com/modernagencysales/gc-member-portal-sub004/domains/provisions/be/progress"
	"github.com/modernagencysales/gc-member-portal-sub004/domains/provisions/be/service"
	"github.com/modernagencysales/gc-member-portal-sub004/platform/go/persistence"
)

// Command groups operator helpers for individual provisions.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Inspect and drive provisions (run, status, watch)",
	}

	cmd.AddCommand(runCommand())
	cmd.AddCommand(statusCommand())
	cmd.AddCommand(watchCommand())
	return cmd
}

func runCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run <provision-id>",
		Short: "Run a paid provision's remaining steps in this process",
		Long:  "Run drives the provision synchronously, resuming from its step log. Settled steps are not repeated.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid provision id: %w", err)
			}
			cfg, err := cmdutil.Config(cmd)
			if err != nil {
				return err
			}
			logger, err := cmdutil.Logger(cmd, "cli-provision-run")
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			pool, store, err := stack.OpenRepository(ctx, cfg)
			if err != nil {
				return err
			}
			defer persistence.ClosePool(pool)

			runner, closeWriter, err := stack.NewEngine(ctx, cfg, store, logger)
			if err != nil {
				return err
			}
			defer func() { _ = closeWriter() }()

			p, err := runner.Run(ctx, id)
			switch {
			case errors.Is(err, engine.ErrNotPaid):
				return fmt.Errorf("provision %s is awaiting payment", id)
			case err != nil:
				return fmt.Errorf("run provision: %w", err)
			}

			logs, err := store.ListStepLogs(ctx, id)
			if err != nil {
				return fmt.Errorf("load step logs: %w", err)
			}
			printProvision(cmd.OutOrStdout(), p, progress.Project(p.ProductType, logs))
			return nil
		},
	}
}

func statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <provision-id>",
		Short: "Show a provision's status and step table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid provision id: %w", err)
			}
			cfg, err := cmdutil.Config(cmd)
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, store, err := stack.OpenRepository(ctx, cfg)
			if err != nil {
				return err
			}
			defer persistence.ClosePool(pool)

			p, err := store.GetProvision(ctx, id)
			if err != nil {
				if errors.Is(err, service.ErrNotFound) {
					return fmt.Errorf("provision %s not found", id)
				}
				return err
			}
			logs, err := store.ListStepLogs(ctx, id)
			if err != nil {
				return fmt.Errorf("load step logs: %w", err)
			}
			printProvision(cmd.OutOrStdout(), p, progress.Project(p.ProductType, logs))
			return nil
		},
	}
}

func watchCommand() *cobra.Command {
	var (
		owner    string
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow an owner's provisioning progress until it settles",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := cmdutil.Config(cmd)
			if err != nil {
				return err
			}
			logger, err := cmdutil.Logger(cmd, "cli-provision-watch")
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			pool, store, err := stack.OpenRepository(ctx, cfg)
			if err != nil {
				return err
			}
			defer persistence.ClosePool(pool)

			out := cmd.OutOrStdout()
			snapshots := make(chan progress.Snapshot, 1)
			poller := progress.NewPoller(progress.NewProjector(store), interval, logger)
			watch := poller.Start(ctx, owner, func(s progress.Snapshot) {
				select {
				case <-snapshots:
				default:
				}
				snapshots <- s
			})
			defer watch.Stop()

			for {
				select {
				case s := <-snapshots:
					printSnapshot(out, s)
				case <-watch.Done():
					select {
					case s := <-snapshots:
						printSnapshot(out, s)
					default:
					}
					if _, err := watch.Last(); err != nil {
						logger.Warn("last progress read failed", zap.Error(err))
					}
					return nil
				case <-ctx.Done():
					return nil
				}
			}
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "Owner (user) id whose provisions to follow")
	cmd.Flags().DurationVar(&interval, "interval", progress.DefaultInterval, "Poll interval")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func printProvision(w io.Writer, p service.Provision, steps []progress.StepView) {
	fmt.Fprintf(w, "%s  %s  %s\n", p.ID, service.ProductTitle(p.ProductType), p.Status)
	if p.Status == service.StatusFailed {
		if p.ProvisioningLog != nil {
			fmt.Fprintf(w, "detail: %s\n", *p.ProvisioningLog)
		}
		if bundle, ok := engine.SupportBundleFromDetail(p.ProvisioningLog); ok {
			fmt.Fprintf(w, "support bundle: %s\n", bundle)
		}
	}
	printSteps(w, steps)
}

func printSnapshot(w io.Writer, s progress.Snapshot) {
	fmt.Fprintf(w, "-- %s\n", time.Now().UTC().Format(time.RFC3339))
	if len(s.Sections) == 0 {
		fmt.Fprintln(w, "No purchased provisions.")
		return
	}
	for _, section := range s.Sections {
		fmt.Fprintf(w, "%s  %s  %s\n", section.ProvisionID, section.Title, section.Status)
		printSteps(w, section.Steps)
	}
	switch {
	case s.Aggregate.AllActive:
		fmt.Fprintln(w, "all products active")
	case s.Aggregate.AnyFailed:
		fmt.Fprintln(w, "provisioning failed; contact support with the bundle above")
	}
}

func printSteps(w io.Writer, steps []progress.StepView) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STEP\tNAME\tSTATUS\tUPDATED_AT\tERROR")
	for _, st := range steps {
		updated := ""
		if st.UpdatedAt != nil {
			updated = st.UpdatedAt.UTC().Format(time.RFC3339)
		}
		errText := ""
		if st.Error != nil {
			errText = *st.Error
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", st.StepNumber, st.Name, st.Status, updated, errText)
	}
	_ = tw.Flush()
}
