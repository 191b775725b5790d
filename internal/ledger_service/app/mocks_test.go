package app

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/familysavings/golang_services/internal/ledger_service/domain"
	"github.com/familysavings/golang_services/internal/ledger_service/repository/sqlite"
	"github.com/familysavings/golang_services/internal/platform/database"
)

// --- Mocks ---

type MockPaymentGateway struct {
	mock.Mock
}

func (m *MockPaymentGateway) Initiate(ctx context.Context, req domain.InitiateRequest) (*domain.InitiateResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.InitiateResponse), args.Error(1)
}

func (m *MockPaymentGateway) QueryStatus(ctx context.Context, correlationID string) (*domain.PaymentStatus, error) {
	args := m.Called(ctx, correlationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.PaymentStatus), args.Error(1)
}

func (m *MockPaymentGateway) ParseCallback(ctx context.Context, payload []byte) (*domain.CallbackEvent, error) {
	args := m.Called(ctx, payload)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.CallbackEvent), args.Error(1)
}

type MockEventSink struct {
	mock.Mock
	mu     sync.Mutex
	events []domain.Event
}

func (m *MockEventSink) Dispatch(ctx context.Context, events []domain.Event) {
	m.Called(ctx, events)
	m.mu.Lock()
	m.events = append(m.events, events...)
	m.mu.Unlock()
}

func (m *MockEventSink) Types() []domain.EventType {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.EventType, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, e.Type)
	}
	return out
}

type MockCallbackVerifier struct {
	mock.Mock
}

func (m *MockCallbackVerifier) Verify(payload []byte, signature string) error {
	return m.Called(payload, signature).Error(0)
}

type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) Publish(ctx context.Context, evt domain.Event) error {
	return m.Called(ctx, evt).Error(0)
}

// conflictingStore fails the first n ResolveTransaction calls with a version conflict.
type conflictingStore struct {
	domain.LedgerStore
	mu        sync.Mutex
	conflicts int
	calls     int
}

func (s *conflictingStore) ResolveTransaction(ctx context.Context, id uuid.UUID, resolve domain.ResolveFunc) (*domain.Transaction, *domain.Goal, error) {
	s.mu.Lock()
	s.calls++
	fail := s.calls <= s.conflicts
	s.mu.Unlock()
	if fail {
		return nil, nil, domain.ErrConcurrencyConflict
	}
	return s.LedgerStore.ResolveTransaction(ctx, id, resolve)
}

// --- Fixtures ---

var baseTime = time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *sqlite.SQLiteLedgerStore {
	t.Helper()
	db, err := database.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	store := sqlite.NewSQLiteLedgerStore(db, testLogger())
	require.NoError(t, store.Migrate(context.Background()))
	return store
}

type ledgerFixture struct {
	svc      *LedgerService
	store    domain.LedgerStore
	gateway  *MockPaymentGateway
	sink     *MockEventSink
	verifier *MockCallbackVerifier
	clock    *testClock
	userID   uuid.UUID
}

func setupLedgerTest(t *testing.T) *ledgerFixture {
	t.Helper()
	return setupLedgerTestWithStore(t, newTestStore(t))
}

func setupLedgerTestWithStore(t *testing.T, store domain.LedgerStore) *ledgerFixture {
	t.Helper()
	f := &ledgerFixture{
		store:    store,
		gateway:  new(MockPaymentGateway),
		sink:     new(MockEventSink),
		verifier: new(MockCallbackVerifier),
		clock:    &testClock{now: baseTime},
		userID:   uuid.New(),
	}
	f.sink.On("Dispatch", mock.Anything, mock.Anything).Return()
	f.svc = NewLedgerService(f.store, f.gateway, f.sink, f.verifier, testLogger(), LedgerConfig{
		MaxSettleRetries: 3,
		Clock:            f.clock.Now,
	})
	return f
}

func (f *ledgerFixture) goal(t *testing.T, target int64) *domain.Goal {
	t.Helper()
	g, err := f.svc.CreateGoal(context.Background(), domain.NewGoalParams{
		UserID:       f.userID,
		Title:        "School fees",
		TargetAmount: decimal.NewFromInt(target),
		TargetDate:   f.clock.Now().Add(30 * 24 * time.Hour),
		Category:     domain.CategoryEducation,
	})
	require.NoError(t, err)
	return g
}

func (f *ledgerFixture) txn(t *testing.T, goal *domain.Goal, txType domain.TransactionType, method domain.TransactionMethod, amount int64) *domain.Transaction {
	t.Helper()
	p := domain.NewTransactionParams{
		UserID: f.userID,
		GoalID: goal.ID,
		Amount: decimal.NewFromInt(amount),
		Type:   txType,
		Method: method,
	}
	if method == domain.MethodMobileMoney {
		p.PhoneNumber = "254712345678"
	}
	txn, err := f.svc.CreateTransaction(context.Background(), p)
	require.NoError(t, err)
	return txn
}

func (f *ledgerFixture) balance(t *testing.T, goalID uuid.UUID) decimal.Decimal {
	t.Helper()
	g, err := f.store.GetGoal(context.Background(), goalID)
	require.NoError(t, err)
	return g.CurrentAmount
}

// ledgerBalance recomputes a goal's balance from its completed transactions.
func (f *ledgerFixture) ledgerBalance(t *testing.T, goalID uuid.UUID) decimal.Decimal {
	t.Helper()
	completed := domain.StatusCompleted
	history, err := f.store.QueryTransactions(context.Background(), domain.TransactionFilter{GoalID: &goalID, Status: &completed})
	require.NoError(t, err)
	sum := decimal.Zero
	for _, txn := range history {
		sum = sum.Add(txn.SignedAmount())
	}
	return sum
}
