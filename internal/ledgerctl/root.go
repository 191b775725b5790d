// Package ledgerctl implements the operator CLI for the savings ledger.
package ledgerctl

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/familysavings/golang_services/internal/ledger_service/domain"
)

// SettlementOperator resolves stuck transactions by hand. Implemented by app.SettlementPoller.
type SettlementOperator interface {
	Repoll(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	Expire(ctx context.Context, id uuid.UUID, reason string) (*domain.Transaction, error)
}

// Deps are the collaborators commands act on.
type Deps struct {
	Store    domain.LedgerStore
	Operator SettlementOperator
	Migrate  func(ctx context.Context) error
	Clock    func() time.Time
}

// Opener connects Deps on first use. The returned func releases them.
type Opener func(ctx context.Context) (*Deps, func(), error)

type cli struct {
	open   Opener
	output string
}

// NewRootCmd builds the ledgerctl command tree.
func NewRootCmd(open Opener) *cobra.Command {
	c := &cli{open: open}
	root := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Operate the family savings ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&c.output, "output", "o", "table", "Output format: table, yaml or json")

	pending := &cobra.Command{Use: "pending", Short: "Inspect pending transactions"}
	pending.AddCommand(c.pendingListCmd())

	settle := &cobra.Command{Use: "settle", Short: "Resolve pending mobile-money transactions"}
	settle.AddCommand(c.repollCmd(), c.expireCmd())

	root.AddCommand(pending, settle, c.migrateCmd())
	return root
}

// withDeps opens the collaborators for the duration of fn.
func (c *cli) withDeps(cmd *cobra.Command, fn func(ctx context.Context, d *Deps) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	d, closeDeps, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer closeDeps()
	if d.Clock == nil {
		d.Clock = func() time.Time { return time.Now().UTC() }
	}
	return fn(ctx, d)
}

func (c *cli) pendingListCmd() *cobra.Command {
	var (
		olderThan time.Duration
		method    string
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pending transactions older than a threshold",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := domain.ParseTransactionMethod(method)
			if err != nil {
				return err
			}
			return c.withDeps(cmd, func(ctx context.Context, d *Deps) error {
				now := d.Clock()
				txns, err := d.Store.ListPendingTransactions(ctx, m, now.Add(-olderThan), limit)
				if err != nil {
					return fmt.Errorf("listing pending transactions: %w", err)
				}
				return render(cmd.OutOrStdout(), c.output, toViews(txns, now))
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Only transactions pending at least this long")
	cmd.Flags().StringVar(&method, "method", string(domain.MethodMobileMoney), "Transaction method")
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum rows")
	return cmd
}

func (c *cli) repollCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repoll <transaction-id>",
		Short: "Query the gateway and settle the transaction if the payment is final",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid transaction id %q: %w", args[0], err)
			}
			return c.withDeps(cmd, func(ctx context.Context, d *Deps) error {
				txn, err := d.Operator.Repoll(ctx, id)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), c.output, toViews([]*domain.Transaction{txn}, d.Clock()))
			})
		},
	}
}

func (c *cli) expireCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "expire <transaction-id>",
		Short: "Fail a pending transaction without touching the goal balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid transaction id %q: %w", args[0], err)
			}
			return c.withDeps(cmd, func(ctx context.Context, d *Deps) error {
				txn, err := d.Operator.Expire(ctx, id, reason)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), c.output, toViews([]*domain.Transaction{txn}, d.Clock()))
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "Failure reason recorded on the transaction (default: settlement timed out)")
	return cmd
}

func (c *cli) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the ledger schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withDeps(cmd, func(ctx context.Context, d *Deps) error {
				if err := d.Migrate(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "schema applied")
				return nil
			})
		},
	}
}
