package sqlite

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
	"github.com/shopspring/decimal"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/familysavings/golang_services/internal/ledger_service/domain"
)

//go:embed schema.sql
var schemaSQL string

const (
	goalColumns = "id, user_id, title, description, target_amount, current_amount, target_date, category, priority, status, auto_save_amount, auto_save_frequency, version, created_at, updated_at, completed_at"
	txnColumns  = "id, user_id, goal_id, amount, type, method, status, description, reference, external_receipt, phone_number, account_reference, fee, failure_reason, created_at, processed_at"

	selectGoalSQL = "SELECT " + goalColumns + " FROM savings_goals"
	selectTxnSQL  = "SELECT " + txnColumns + " FROM savings_transactions"
)

type rowScanner interface {
	Scan(dest ...any) error
}

// SQLiteLedgerStore implements domain.LedgerStore on an embedded SQLite database.
// The database handle is expected to hold a single connection, which serializes
// every read-modify-write the same way row locks do on PostgreSQL.
type SQLiteLedgerStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ domain.LedgerStore = (*SQLiteLedgerStore)(nil)

func NewSQLiteLedgerStore(db *sql.DB, logger *slog.Logger) *SQLiteLedgerStore {
	return &SQLiteLedgerStore{db: db, logger: logger.With("component", "ledger_store_sqlite")}
}

func (s *SQLiteLedgerStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("applying ledger schema: %w", err)
	}
	return nil
}

func (s *SQLiteLedgerStore) CreateGoal(ctx context.Context, g *domain.Goal) error {
	autoAmount, autoFreq := autoSaveArgs(g.AutoSave)
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO savings_goals ("+goalColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		g.ID.String(), g.UserID.String(), g.Title, g.Description, g.TargetAmount.String(), g.CurrentAmount.String(),
		nanos(g.TargetDate), string(g.Category), string(g.Priority), string(g.Status), autoAmount, autoFreq,
		g.Version, nanos(g.CreatedAt), nanos(g.UpdatedAt), nullNanos(g.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting goal: %w", mapWriteError(err))
	}
	return nil
}

func (s *SQLiteLedgerStore) GetGoal(ctx context.Context, id uuid.UUID) (*domain.Goal, error) {
	g, err := scanGoal(s.db.QueryRowContext(ctx, selectGoalSQL+" WHERE id = ?", id.String()))
	if err != nil {
		return nil, fmt.Errorf("getting goal %s: %w", id, err)
	}
	return g, nil
}

func (s *SQLiteLedgerStore) ListGoals(ctx context.Context, userID uuid.UUID, filter domain.GoalFilter) ([]*domain.Goal, error) {
	var w whereBuilder
	w.add("user_id = ?", userID.String())
	if filter.Status != nil {
		w.add("status = ?", string(*filter.Status))
	}
	if filter.Category != nil {
		w.add("category = ?", string(*filter.Category))
	}
	query := selectGoalSQL + w.sql() + " ORDER BY created_at DESC" + w.page(filter.Limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, w.args...)
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
	return goals, rows.Err()
}

func (s *SQLiteLedgerStore) UpdateGoal(ctx context.Context, id uuid.UUID, mutate domain.GoalMutator) (*domain.Goal, error) {
	var updated *domain.Goal
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		g, err := scanGoal(tx.QueryRowContext(ctx, selectGoalSQL+" WHERE id = ?", id.String()))
		if err != nil {
			return err
		}
		version, balance := g.Version, g.CurrentAmount
		if err := mutate(g); err != nil {
			return err
		}
		g.CurrentAmount = balance

		autoAmount, autoFreq := autoSaveArgs(g.AutoSave)
		res, err := tx.ExecContext(ctx,
			`UPDATE savings_goals SET title = ?, description = ?, target_amount = ?, target_date = ?, category = ?,
			priority = ?, status = ?, auto_save_amount = ?, auto_save_frequency = ?, updated_at = ?, completed_at = ?,
			version = version + 1 WHERE id = ? AND version = ?`,
			g.Title, g.Description, g.TargetAmount.String(), nanos(g.TargetDate), string(g.Category),
			string(g.Priority), string(g.Status), autoAmount, autoFreq, nanos(g.UpdatedAt), nullNanos(g.CompletedAt),
			g.ID.String(), version,
		)
		if err := expectOneRow(res, err, domain.ErrConcurrencyConflict); err != nil {
			return err
		}
		g.Version = version + 1
		updated = g
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("updating goal %s: %w", id, err)
	}
	return updated, nil
}

func (s *SQLiteLedgerStore) DeleteGoal(ctx context.Context, id uuid.UUID) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := scanGoal(tx.QueryRowContext(ctx, selectGoalSQL+" WHERE id = ?", id.String())); err != nil {
			return err
		}
		var pending int64
		err := tx.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM savings_transactions WHERE goal_id = ? AND status = 'pending'", id.String()).Scan(&pending)
		if err != nil {
			return err
		}
		if pending > 0 {
			return domain.NewValidationError("goal_id", "goal has pending transactions")
		}
		_, err = tx.ExecContext(ctx, "DELETE FROM savings_goals WHERE id = ?", id.String())
		return err
	})
	if err != nil {
		return fmt.Errorf("deleting goal %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteLedgerStore) InsertTransaction(ctx context.Context, t *domain.Transaction) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO savings_transactions ("+txnColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		t.ID.String(), t.UserID.String(), t.GoalID.String(), t.Amount.String(), string(t.Type), string(t.Method),
		string(t.Status), t.Description, nullString(t.Reference), t.ExternalReceipt, t.PhoneNumber,
		t.AccountReference, t.Fee.String(), t.FailureReason, nanos(t.CreatedAt), nullNanos(t.ProcessedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting transaction: %w", mapWriteError(err))
	}
	return nil
}

func (s *SQLiteLedgerStore) GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	t, err := scanTransaction(s.db.QueryRowContext(ctx, selectTxnSQL+" WHERE id = ?", id.String()))
	if err != nil {
		return nil, fmt.Errorf("getting transaction %s: %w", id, err)
	}
	return t, nil
}

func (s *SQLiteLedgerStore) GetTransactionByReference(ctx context.Context, reference string) (*domain.Transaction, error) {
	t, err := scanTransaction(s.db.QueryRowContext(ctx, selectTxnSQL+" WHERE reference = ?", reference))
	if err != nil {
		return nil, fmt.Errorf("getting transaction by reference %q: %w", reference, err)
	}
	return t, nil
}

func (s *SQLiteLedgerStore) AttachReference(ctx context.Context, id uuid.UUID, reference string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE savings_transactions SET reference = ? WHERE id = ? AND status = 'pending' AND reference IS NULL",
		reference, id.String())
	if err != nil {
		return fmt.Errorf("attaching reference to %s: %w", id, mapWriteError(err))
	}
	if n, _ := res.RowsAffected(); n == 1 {
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

func (s *SQLiteLedgerStore) ReplaceReference(ctx context.Context, id uuid.UUID, from, to string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE savings_transactions SET reference = NULLIF(?, '') WHERE id = ? AND status = 'pending' AND reference = ?",
		to, id.String(), from)
	if err != nil {
		return fmt.Errorf("replacing reference on %s: %w", id, mapWriteError(err))
	}
	if n, _ := res.RowsAffected(); n == 1 {
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

func (s *SQLiteLedgerStore) ResolveTransaction(ctx context.Context, id uuid.UUID, resolve domain.ResolveFunc) (*domain.Transaction, *domain.Goal, error) {
	var (
		resolved *domain.Transaction
		goal     *domain.Goal
	)
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		t, err := scanTransaction(tx.QueryRowContext(ctx, selectTxnSQL+" WHERE id = ?", id.String()))
		if err != nil {
			return err
		}
		if t.Status.IsTerminal() {
			return domain.ErrAlreadyTerminal
		}
		g, err := scanGoal(tx.QueryRowContext(ctx, selectGoalSQL+" WHERE id = ?", t.GoalID.String()))
		if err != nil {
			return err
		}
		before := *g
		if err := resolve(t, g); err != nil {
			return err
		}
		if !t.Status.IsTerminal() {
			return fmt.Errorf("transaction %s left in status %s", id, t.Status)
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE savings_transactions SET status = ?, amount = ?, external_receipt = ?, failure_reason = ?, processed_at = ?
			WHERE id = ? AND status = 'pending'`,
			string(t.Status), t.Amount.String(), t.ExternalReceipt, t.FailureReason, nullNanos(t.ProcessedAt), t.ID.String())
		if err := expectOneRow(res, err, domain.ErrAlreadyTerminal); err != nil {
			return err
		}

		if balanceChanged(&before, g) {
			res, err = tx.ExecContext(ctx,
				`UPDATE savings_goals SET current_amount = ?, status = ?, completed_at = ?, updated_at = ?, version = version + 1
				WHERE id = ? AND version = ?`,
				g.CurrentAmount.String(), string(g.Status), nullNanos(g.CompletedAt), nanos(g.UpdatedAt), g.ID.String(), before.Version)
			if err := expectOneRow(res, err, domain.ErrConcurrencyConflict); err != nil {
				return err
			}
			g.Version = before.Version + 1
		}
		resolved, goal = t, g
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
	return resolved, goal, nil
}

func (s *SQLiteLedgerStore) QueryTransactions(ctx context.Context, filter domain.TransactionFilter) ([]*domain.Transaction, error) {
	var w whereBuilder
	if filter.UserID != nil {
		w.add("user_id = ?", filter.UserID.String())
	}
	if filter.GoalID != nil {
		w.add("goal_id = ?", filter.GoalID.String())
	}
	if filter.Type != nil {
		w.add("type = ?", string(*filter.Type))
	}
	if filter.Method != nil {
		w.add("method = ?", string(*filter.Method))
	}
	if filter.Status != nil {
		w.add("status = ?", string(*filter.Status))
	}
	if !filter.From.IsZero() {
		w.add("created_at >= ?", nanos(filter.From))
	}
	if !filter.To.IsZero() {
		w.add("created_at < ?", nanos(filter.To))
	}
	query := selectTxnSQL + w.sql() + " ORDER BY created_at DESC" + w.page(filter.Limit, filter.Offset)
	return s.queryTransactions(ctx, query, w.args)
}

func (s *SQLiteLedgerStore) ListPendingTransactions(ctx context.Context, method domain.TransactionMethod, createdBefore time.Time, limit int) ([]*domain.Transaction, error) {
	var w whereBuilder
	w.add("status = ?", string(domain.StatusPending))
	if method != "" {
		w.add("method = ?", string(method))
	}
	w.add("created_at < ?", nanos(createdBefore))
	query := selectTxnSQL + w.sql() + " ORDER BY created_at ASC" + w.page(limit, 0)
	return s.queryTransactions(ctx, query, w.args)
}

func (s *SQLiteLedgerStore) queryTransactions(ctx context.Context, query string, args []any) ([]*domain.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying transactions: %w", err)
	}
	defer rows.Close()

	var out []*domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLiteLedgerStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logger.ErrorContext(ctx, "Rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

type whereBuilder struct {
	clauses []string
	args    []any
}

func (w *whereBuilder) add(clause string, arg any) {
	w.clauses = append(w.clauses, clause)
	w.args = append(w.args, arg)
}

func (w *whereBuilder) sql() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

// page emits LIMIT/OFFSET; SQLite needs LIMIT -1 to express an offset without a bound.
func (w *whereBuilder) page(limit, offset int) string {
	if limit <= 0 && offset <= 0 {
		return ""
	}
	if limit <= 0 {
		limit = -1
	}
	w.args = append(w.args, limit, offset)
	return " LIMIT ? OFFSET ?"
}

func scanGoal(row rowScanner) (*domain.Goal, error) {
	var (
		g                                domain.Goal
		target, current                  string
		category, priority, status       string
		autoAmount, autoFreq             sql.NullString
		targetDate, createdAt, updatedAt int64
		completedAt                      sql.NullInt64
	)
	err := row.Scan(&g.ID, &g.UserID, &g.Title, &g.Description, &target, &current, &targetDate,
		&category, &priority, &status, &autoAmount, &autoFreq, &g.Version, &createdAt, &updatedAt, &completedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
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
	if autoAmount.Valid {
		amount, err := decimal.NewFromString(autoAmount.String)
		if err != nil {
			return nil, fmt.Errorf("decoding auto_save_amount: %w", err)
		}
		g.AutoSave = &domain.AutoSavePolicy{Amount: amount, Frequency: domain.AutoSaveFrequency(autoFreq.String)}
	}
	g.Category = domain.GoalCategory(category)
	g.Priority = domain.GoalPriority(priority)
	g.Status = domain.GoalStatus(status)
	g.TargetDate = fromNanos(targetDate)
	g.CreatedAt = fromNanos(createdAt)
	g.UpdatedAt = fromNanos(updatedAt)
	g.CompletedAt = fromNullNanos(completedAt)
	return &g, nil
}

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	var (
		t                     domain.Transaction
		amount, fee           string
		txType, method, state string
		reference             sql.NullString
		createdAt             int64
		processedAt           sql.NullInt64
	)
	err := row.Scan(&t.ID, &t.UserID, &t.GoalID, &amount, &txType, &method, &state, &t.Description, &reference,
		&t.ExternalReceipt, &t.PhoneNumber, &t.AccountReference, &fee, &t.FailureReason, &createdAt, &processedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
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
	t.CreatedAt = fromNanos(createdAt)
	t.ProcessedAt = fromNullNanos(processedAt)
	return &t, nil
}

func expectOneRow(res sql.Result, err error, none error) error {
	if err != nil {
		return mapWriteError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return none
	}
	return nil
}

func balanceChanged(before, after *domain.Goal) bool {
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

func nanos(t time.Time) int64 { return t.UTC().UnixNano() }

func nullNanos(t *time.Time) any {
	if t == nil {
		return nil
	}
	return nanos(*t)
}

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func fromNullNanos(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func mapWriteError(err error) error {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return err
	}
	switch sqliteErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return domain.NewValidationError("reference", "gateway reference is already in use")
	case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return domain.NewValidationError("id", "already exists")
	case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
		return domain.ErrNotFound
	}
	return err
}
