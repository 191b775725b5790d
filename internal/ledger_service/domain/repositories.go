package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type GoalFilter struct {
	Status   *GoalStatus
	Category *GoalCategory
	Limit    int // 0 means no limit
	Offset   int
}

// TransactionFilter selects transactions; From/To bound created_at as [From, To),
// and a zero time leaves that side open.
type TransactionFilter struct {
	UserID *uuid.UUID
	GoalID *uuid.UUID
	Type   *TransactionType
	Method *TransactionMethod
	Status *TransactionStatus
	From   time.Time
	To     time.Time
	Limit  int // 0 means no limit
	Offset int
}

// GoalMutator edits a locked goal. Changes to CurrentAmount are discarded.
type GoalMutator func(goal *Goal) error

// ResolveFunc moves a locked pending transaction to a terminal status and may
// adjust the locked goal's balance.
type ResolveFunc func(txn *Transaction, goal *Goal) error

// LedgerStore persists goals and transactions. Implementations must make
// ResolveTransaction atomic: the terminal transaction write and the goal write
// commit together or not at all.
type LedgerStore interface {
	CreateGoal(ctx context.Context, goal *Goal) error
	GetGoal(ctx context.Context, id uuid.UUID) (*Goal, error)
	ListGoals(ctx context.Context, userID uuid.UUID, filter GoalFilter) ([]*Goal, error)
	// UpdateGoal locks the goal, applies mutate and writes it with a version check.
	UpdateGoal(ctx context.Context, id uuid.UUID, mutate GoalMutator) (*Goal, error)
	// DeleteGoal refuses with a ValidationError while a pending transaction references the goal.
	DeleteGoal(ctx context.Context, id uuid.UUID) error

	InsertTransaction(ctx context.Context, txn *Transaction) error
	GetTransaction(ctx context.Context, id uuid.UUID) (*Transaction, error)
	GetTransactionByReference(ctx context.Context, reference string) (*Transaction, error)
	// AttachReference records the gateway correlation id on a pending transaction.
	AttachReference(ctx context.Context, id uuid.UUID, reference string) error
	// ReplaceReference swaps reference from for to on a pending transaction. An empty
	// to clears the reference.
	ReplaceReference(ctx context.Context, id uuid.UUID, from, to string) error
	// ResolveTransaction returns ErrAlreadyTerminal together with the stored
	// transaction when it is no longer pending.
	ResolveTransaction(ctx context.Context, id uuid.UUID, resolve ResolveFunc) (*Transaction, *Goal, error)
	QueryTransactions(ctx context.Context, filter TransactionFilter) ([]*Transaction, error)
	// ListPendingTransactions returns pending transactions created before createdBefore,
	// oldest first. An empty method matches every method.
	ListPendingTransactions(ctx context.Context, method TransactionMethod, createdBefore time.Time, limit int) ([]*Transaction, error)
}
