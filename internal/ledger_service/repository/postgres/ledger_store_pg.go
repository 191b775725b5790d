package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/familysavings/golang_services/internal/ledger_service/domain"
)

//go:embed schema.sql
var schemaSQL string

// querier is satisfied by *pgxpool.Pool, pgx.Tx and pgxmock.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DBPool is the subset of *pgxpool.Pool the store needs.
type DBPool interface {
	querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

const (
	goalColumns = "id, user_id, title, description, target_amount::text, current_amount::text, target_date, category, priority, status, auto_save_amount::text, auto_save_frequency, version, created_at, updated_at, completed_at"
	txnColumns  = "id, user_id, goal_id, amount::text, type, method, status, description, reference, external_receipt, phone_number, account_reference, fee::text, failure_reason, created_at, processed_at"

	selectGoalSQL = "SELECT " + goalColumns + " FROM savings_goals"
	selectTxnSQL  = "SELECT " + txnColumns + " FROM savings_transactions"

	insertGoalSQL = "INSERT INTO savings_goals (id, user_id, title, description, target_amount, current_amount, target_date, category, priority, status, auto_save_amount, auto_save_frequency, version, created_at, updated_at, completed_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)"
	insertTxnSQL  = "INSERT INTO savings_transactions (id, user_id, goal_id, amount, type, method, status, description, reference, external_receipt, phone_number, account_reference, fee, failure_reason, created_at, processed_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)"

	updateGoalDetailsSQL = "UPDATE savings_goals SET title = $2, description = $3, target_amount = $4, target_date = $5, category = $6, priority = $7, status = $8, auto_save_amount = $9, auto_save_frequency = $10, updated_at = $11, completed_at = $12, version = version + 1 WHERE id = $1 AND version = $13"
	updateGoalBalanceSQL = "UPDATE savings_goals SET current_amount = $2, status = $3, completed_at = $4, updated_at = $5, version = version + 1 WHERE id = $1 AND version = $6"
	resolveTxnSQL        = "UPDATE savings_transactions SET status = $2, amount = $3, external_receipt = $4, failure_reason = $5, processed_at = $6 WHERE id = $1 AND status = 'pending'"
	attachReferenceSQL   = "UPDATE savings_transactions SET reference = $2 WHERE id = $1 AND status = 'pending' AND reference IS NULL"
	replaceReferenceSQL  = "UPDATE savings_transactions SET reference = NULLIF($3, '') WHERE id = $1 AND status = 'pending' AND reference = $2"
	countPendingSQL      = "SELECT COUNT(*) FROM savings_transactions WHERE goal_id = $1 AND status = 'pending'"
	deleteGoalSQL        = "DELETE FROM savings_goals WHERE id = $1"
)

// PgLedgerStore implements domain.LedgerStore on PostgreSQL. Goal balances are
// guarded by row locks plus the version column.
type PgLedgerStore struct {
	db     DBPool
	logger *slog.Logger
}

var _ domain.LedgerStore = (*PgLedgerStore)(nil)

func NewPgLedgerStore(db DBPool, logger *slog.Logger) *PgLedgerStore {
	return &PgLedgerStore{db: db, logger: logger.With("component", "ledger_store_pg")}
}

// Migrate applies the embedded schema. Statements are idempotent.
func (s *PgLedgerStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("applying ledger schema: %w", err)
	}
	s.logger.InfoContext(ctx, "Ledger schema applied")
	return nil
}

func (s *PgLedgerStore) CreateGoal(ctx context.Context, goal *domain.Goal) error {
	autoAmount, autoFreq := autoSaveArgs(goal.AutoSave)
	_, err := s.db.Exec(ctx, insertGoalSQL,
		goal.ID, goal.UserID, goal.Title, goal.Description, goal.TargetAmount.String(), goal.CurrentAmount.String(),
		goal.TargetDate, string(goal.Category), string(goal.Priority), string(goal.Status), autoAmount, autoFreq,
		goal.Version, goal.CreatedAt, goal.UpdatedAt, nullTime(goal.CompletedAt),
	)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to insert goal", "goal_id", goal.ID, "error", err)
		return fmt.Errorf("inserting goal: %w", mapWriteError(err))
	}
	return nil
}

func (s *PgLedgerStore) GetGoal(ctx context.Context, id uuid.UUID) (*domain.Goal, error) {
	goal, err := scanGoal(s.db.QueryRow(ctx, selectGoalSQL+" WHERE id = $1", id))
	if err != nil {
		return nil, fmt.Errorf("getting goal %s: %w", id, err)
	}
	return goal, nil
}

func (s *PgLedgerStore) ListGoals(ctx context.Context, userID uuid.UUID, filter domain.GoalFilter) ([]*domain.Goal, error) {
	var w whereBuilder
	w.add("user_id = $%d", userID)
	if filter.Status != nil {
		w.add("status = $%d", string(*filter.Status))
	}
	if filter.Category != nil {
		w.add("category = $%d", string(*filter.Category))
	}
	query := selectGoalSQL + w.sql() + " ORDER BY created_at DESC" + w.page(filter.Limit, filter.Offset)

	rows, err := s.db.Query(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("listing goals: %w", err)
	}
	defer rows.Close()

	var goals []*domain.Goal
	for rows.Next() {
		g, err := scanGoal(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning goal: %w", err)
		}
		goals = append(goals, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating goals: %w", err)
	}
	return goals, nil
}

func (s *PgLedgerStore) UpdateGoal(ctx context.Context, id uuid.UUID, mutate domain.GoalMutator) (*domain.Goal, error) {
	var updated *domain.Goal
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		goal, err := scanGoal(tx.QueryRow(ctx, selectGoalSQL+" WHERE id = $1 FOR UPDATE", id))
		if err != nil {
			return err
		}
		version, balance := goal.Version, goal.CurrentAmount
		if err := mutate(goal); err != nil {
			return err
		}
		goal.CurrentAmount = balance

		autoAmount, autoFreq := autoSaveArgs(goal.AutoSave)
		tag, err := tx.Exec(ctx, updateGoalDetailsSQL,
			goal.ID, goal.Title, goal.Description, goal.TargetAmount.String(), goal.TargetDate,
			string(goal.Category), string(goal.Priority), string(goal.Status), autoAmount, autoFreq,
			goal.UpdatedAt, nullTime(goal.CompletedAt), version,
		)
		if err != nil {
			return mapWriteError(err)
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrConcurrencyConflict
		}
		goal.Version = version + 1
		updated = goal
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("updating goal %s: %w", id, err)
	}
	return updated, nil
}

// DeleteGoal removes the goal and its transaction history. It refuses while any
// transaction against the goal is still pending.
func (s *PgLedgerStore) DeleteGoal(ctx context.Context, id uuid.UUID) error {
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := scanGoal(tx.QueryRow(ctx, selectGoalSQL+" WHERE id = $1 FOR UPDATE", id)); err != nil {
			return err
		}
		var pending int64
		if err := tx.QueryRow(ctx, countPendingSQL, id).Scan(&pending); err != nil {
			return err
		}
		if pending > 0 {
			return domain.NewValidationError("goal_id", "goal has pending transactions")
		}
		_, err := tx.Exec(ctx, deleteGoalSQL, id)
		return err
	})
	if err != nil {
		return fmt.Errorf("deleting goal %s: %w", id, err)
	}
	return nil
}

func (s *PgLedgerStore) InsertTransaction(ctx context.Context, txn *domain.Transaction) error {
	_, err := s.db.Exec(ctx, insertTxnSQL,
		txn.ID, txn.UserID, txn.GoalID, txn.Amount.String(), string(txn.Type), string(txn.Method), string(txn.Status),
		txn.Description, nullString(txn.Reference), txn.ExternalReceipt, txn.PhoneNumber, txn.AccountReference,
		txn.Fee.String(), txn.FailureReason, txn.CreatedAt, nullTime(txn.ProcessedAt),
	)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to insert transaction", "transaction_id", txn.ID, "error", err)
		return fmt.Errorf("inserting transaction: %w", mapWriteError(err))
	}
	return nil
}

func (s *PgLedgerStore) GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	txn, err := scanTransaction(s.db.QueryRow(ctx, selectTxnSQL+" WHERE id = $1", id))
	if err != nil {
		return nil, fmt.Errorf("getting transaction %s: %w", id, err)
	}
	return txn, nil
}

func (s *PgLedgerStore) GetTransactionByReference(ctx context.Context, reference string) (*domain.Transaction, error) {
	txn, err := scanTransaction(s.db.QueryRow(ctx, selectTxnSQL+" WHERE reference = $1", reference))
	if err != nil {
		return nil, fmt.Errorf("getting transaction by reference %q: %w", reference, err)
	}
	return txn, nil
}

func (s *PgLedgerStore) AttachReference(ctx context.Context, id uuid.UUID, reference string) error {
	tag, err := s.db.Exec(ctx, attachReferenceSQL, id, reference)
	if err != nil {
		return fmt.Errorf("attaching reference to %s: %w", id, mapWriteError(err))
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	current, err := s.GetTransaction(ctx, id)
	if err != nil {
		return err
	}
	if current.Status.IsTerminal() {
		return fmt.Errorf("attaching reference to %s: %w", id, domain.ErrAlreadyTerminal)
	}
	return domain.NewValidationError("reference", "transaction already has a gateway reference")
}

func (s *PgLedgerStore) ReplaceReference(ctx context.Context, id uuid.UUID, from, to string) error {
	tag, err := s.db.Exec(ctx, replaceReferenceSQL, id, from, to)
	if err != nil {
		return fmt.Errorf("replacing reference on %s: %w", id, mapWriteError(err))
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	current, err := s.GetTransaction(ctx, id)
	if err != nil {
		return err
	}
	if current.Status.IsTerminal() {
		return fmt.Errorf("replacing reference on %s: %w", id, domain.ErrAlreadyTerminal)
	}
	return domain.NewValidationError("reference", "transaction reference changed concurrently")
}

func (s *PgLedgerStore) ResolveTransaction(ctx context.Context, id uuid.UUID, resolve domain.ResolveFunc) (*domain.Transaction, *domain.Goal, error) {
	var (
		resolved *domain.Transaction
		goal     *domain.Goal
	)
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		txn, err := scanTransaction(tx.QueryRow(ctx, selectTxnSQL+" WHERE id = $1 FOR UPDATE", id))
		if err != nil {
			return err
		}
		if txn.Status.IsTerminal() {
			return domain.ErrAlreadyTerminal
		}
		g, err := scanGoal(tx.QueryRow(ctx, selectGoalSQL+" WHERE id = $1 FOR UPDATE", txn.GoalID))
		if err != nil {
			return err
		}
		before := *g
		if err := resolve(txn, g); err != nil {
			return err
		}
		if !txn.Status.IsTerminal() {
			return fmt.Errorf("transaction %s left in status %s", id, txn.Status)
		}

		tag, err := tx.Exec(ctx, resolveTxnSQL,
			txn.ID, string(txn.Status), txn.Amount.String(), txn.ExternalReceipt, txn.FailureReason, nullTime(txn.ProcessedAt))
		if err != nil {
			return mapWriteError(err)
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrAlreadyTerminal
		}

		if goalBalanceChanged(&before, g) {
			tag, err = tx.Exec(ctx, updateGoalBalanceSQL,
				g.ID, g.CurrentAmount.String(), string(g.Status), nullTime(g.CompletedAt), g.UpdatedAt, before.Version)
			if err != nil {
				return mapWriteError(err)
			}
			if tag.RowsAffected() == 0 {
				return domain.ErrConcurrencyConflict
			}
			g.Version = before.Version + 1
		}
		resolved, goal = txn, g
		return nil
	})
	if errors.Is(err, domain.ErrAlreadyTerminal) {
		existing, getErr := s.GetTransaction(ctx, id)
		if getErr != nil {
			return nil, nil, getErr
		}
		return existing, nil, domain.ErrAlreadyTerminal
	}
	if err != nil {
		return nil, nil, fmt.Errorf("resolving transaction %s: %w", id, err)
	}
	s.logger.DebugContext(ctx, "Transaction resolved", "transaction_id", id, "status", resolved.Status, "goal_version", goal.Version)
	return resolved, goal, nil
}

func (s *PgLedgerStore) QueryTransactions(ctx context.Context, filter domain.TransactionFilter) ([]*domain.Transaction, error) {
	var w whereBuilder
	if filter.UserID != nil {
		w.add("user_id = $%d", *filter.UserID)
	}
	if filter.GoalID != nil {
		w.add("goal_id = $%d", *filter.GoalID)
	}
	if filter.Type != nil {
		w.add("type = $%d", string(*filter.Type))
	}
	if filter.Method != nil {
		w.add("method = $%d", string(*filter.Method))
	}
	if filter.Status != nil {
		w.add("status = $%d", string(*filter.Status))
	}
	if !filter.From.IsZero() {
		w.add("created_at >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		w.add("created_at < $%d", filter.To)
	}
	query := selectTxnSQL + w.sql() + " ORDER BY created_at DESC" + w.page(filter.Limit, filter.Offset)
	return s.queryTransactions(ctx, query, w.args)
}

func (s *PgLedgerStore) ListPendingTransactions(ctx context.Context, method domain.TransactionMethod, createdBefore time.Time, limit int) ([]*domain.Transaction, error) {
	var w whereBuilder
	w.add("status = $%d", string(domain.StatusPending))
	if method != "" {
		w.add("method = $%d", string(method))
	}
	w.add("created_at < $%d", createdBefore)
	query := selectTxnSQL + w.sql() + " ORDER BY created_at ASC" + w.page(limit, 0)
	return s.queryTransactions(ctx, query, w.args)
}

func (s *PgLedgerStore) queryTransactions(ctx context.Context, query string, args []any) ([]*domain.Transaction, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying transactions: %w", err)
	}
	defer rows.Close()

	var out []*domain.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning transaction: %w", err)
		}
		out = append(out, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating transactions: %w", err)
	}
	return out, nil
}

func (s *PgLedgerStore) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.ErrorContext(ctx, "Rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

type whereBuilder struct {
	clauses []string
	args    []any
}

func (w *whereBuilder) add(clause string, arg any) {
	w.args = append(w.args, arg)
	w.clauses = append(w.clauses, fmt.Sprintf(clause, len(w.args)))
}

func (w *whereBuilder) sql() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

// page appends LIMIT/OFFSET placeholders; a zero limit means unbounded.
func (w *whereBuilder) page(limit, offset int) string {
	var b strings.Builder
	if limit > 0 {
		w.args = append(w.args, limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(w.args))
	}
	if offset > 0 {
		w.args = append(w.args, offset)
		fmt.Fprintf(&b, " OFFSET $%d", len(w.args))
	}
	return b.String()
}

func scanGoal(row pgx.Row) (*domain.Goal, error) {
	var (
		g                          domain.Goal
		target, current            string
		category, priority, status string
		autoAmount, autoFreq       sql.NullString
		completedAt                sql.NullTime
	)
	err := row.Scan(&g.ID, &g.UserID, &g.Title, &g.Description, &target, &current, &g.TargetDate,
		&category, &priority, &status, &autoAmount, &autoFreq, &g.Version, &g.CreatedAt, &g.UpdatedAt, &completedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if g.TargetAmount, err = decimal.NewFromString(target); err != nil {
		return nil, fmt.Errorf("decoding target_amount: %w", err)
	}
	if g.CurrentAmount, err = decimal.NewFromString(current); err != nil {
		return nil, fmt.Errorf("decoding current_amount: %w", err)
	}
	g.Category = domain.GoalCategory(category)
	g.Priority = domain.GoalPriority(priority)
	g.Status = domain.GoalStatus(status)
	if autoAmount.Valid {
		amount, err := decimal.NewFromString(autoAmount.String)
		if err != nil {
			return nil, fmt.Errorf("decoding auto_save_amount: %w", err)
		}
		g.AutoSave = &domain.AutoSavePolicy{Amount: amount, Frequency: domain.AutoSaveFrequency(autoFreq.String)}
	}
	g.TargetDate = g.TargetDate.UTC()
	g.CreatedAt = g.CreatedAt.UTC()
	g.UpdatedAt = g.UpdatedAt.UTC()
	if completedAt.Valid {
		t := completedAt.Time.UTC()
		g.CompletedAt = &t
	}
	return &g, nil
}

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var (
		t                     domain.Transaction
		amount, fee           string
		txType, method, state string
		reference             sql.NullString
		processedAt           sql.NullTime
	)
	err := row.Scan(&t.ID, &t.UserID, &t.GoalID, &amount, &txType, &method, &state, &t.Description, &reference,
		&t.ExternalReceipt, &t.PhoneNumber, &t.AccountReference, &fee, &t.FailureReason, &t.CreatedAt, &processedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("decoding amount: %w", err)
	}
	if t.Fee, err = decimal.NewFromString(fee); err != nil {
		return nil, fmt.Errorf("decoding fee: %w", err)
	}
	t.Type = domain.TransactionType(txType)
	t.Method = domain.TransactionMethod(method)
	t.Status = domain.TransactionStatus(state)
	t.Reference = reference.String
	t.CreatedAt = t.CreatedAt.UTC()
	if processedAt.Valid {
		p := processedAt.Time.UTC()
		t.ProcessedAt = &p
	}
	return &t, nil
}

func goalBalanceChanged(before, after *domain.Goal) bool {
	if !before.CurrentAmount.Equal(after.CurrentAmount) || before.Status != after.Status {
		return true
	}
	return (before.CompletedAt == nil) != (after.CompletedAt == nil)
}

func autoSaveArgs(p *domain.AutoSavePolicy) (any, any) {
	if p == nil {
		return nil, nil
	}
	return p.Amount.String(), string(p.Frequency)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "23505":
		return domain.NewValidationError("reference", "gateway reference is already in use")
	case "23503":
		return domain.ErrNotFound
	case "23514":
		return domain.NewValidationError("", "value violates constraint "+pgErr.ConstraintName)
	}
	return err
}
