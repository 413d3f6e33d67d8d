package app

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/vaultra/treasury-service/internal/domain"
	"github.com/vaultra/treasury-service/internal/store"
)

// memoryRepository is a stateful in-memory Repository used to exercise the
// state machine without a database.
type memoryRepository struct {
	state     *domain.StrategyState
	transfers map[domain.TransferID]*domain.TransferRecord
	ledger    map[string]int64
	keepers   map[string]bool

	saveErr    error
	confirmErr error
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{
		transfers: make(map[domain.TransferID]*domain.TransferRecord),
		ledger:    make(map[string]int64),
		keepers:   make(map[string]bool),
	}
}

func (m *memoryRepository) FindOrCreateStrategyState(ctx context.Context) (*domain.StrategyState, error) {
	if m.state == nil {
		m.state = &domain.StrategyState{IsActive: true, MaxValueStaleness: domain.DefaultMaxValueStaleness}
	}
	copied := *m.state
	return &copied, nil
}

func (m *memoryRepository) SaveStrategyState(ctx context.Context, state *domain.StrategyState) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	copied := *state
	m.state = &copied
	return nil
}

func (m *memoryRepository) CreateTransferRecord(ctx context.Context, rec *domain.TransferRecord) error {
	copied := *rec
	m.transfers[rec.TransferID] = &copied
	return nil
}

func (m *memoryRepository) FindTransferByID(ctx context.Context, id domain.TransferID) (*domain.TransferRecord, error) {
	rec, ok := m.transfers[id]
	if !ok {
		return nil, domain.ErrTransferNotFound
	}
	copied := *rec
	return &copied, nil
}

// ConfirmTransferDeployed applies the record transition and the state save
// together, mirroring the single-transaction Postgres implementation: on any
// failure neither write is visible.
func (m *memoryRepository) ConfirmTransferDeployed(ctx context.Context, id domain.TransferID, state *domain.StrategyState) error {
	if m.confirmErr != nil {
		return m.confirmErr
	}
	rec, ok := m.transfers[id]
	if !ok || rec.State != domain.TransferStatePending {
		return domain.ErrTransferNotFound
	}
	rec.State = domain.TransferStateDeployed
	copied := *state
	m.state = &copied
	return nil
}

func (m *memoryRepository) DeleteTransferRecord(ctx context.Context, id domain.TransferID) error {
	if _, ok := m.transfers[id]; !ok {
		return domain.ErrTransferNotFound
	}
	delete(m.transfers, id)
	return nil
}

func (m *memoryRepository) ListTransferRecords(ctx context.Context, opts store.TransferListOptions) ([]domain.TransferRecord, error) {
	var out []domain.TransferRecord
	for _, rec := range m.transfers {
		if opts.Kind != "" && string(rec.Kind) != opts.Kind {
			continue
		}
		if opts.State != "" && string(rec.State) != opts.State {
			continue
		}
		out = append(out, *rec)
	}
	return out, nil
}

func (m *memoryRepository) FindLedgerAccount(ctx context.Context, principal string) (*domain.LedgerAccount, error) {
	balance, ok := m.ledger[principal]
	if !ok {
		return nil, store.ErrLedgerAccountNotFound
	}
	return &domain.LedgerAccount{Principal: principal, Balance: balance}, nil
}

func (m *memoryRepository) DebitLedger(ctx context.Context, principal string, amount int64) error {
	if m.ledger[principal] < amount {
		return store.ErrInsufficientFunds
	}
	m.ledger[principal] -= amount
	return nil
}

func (m *memoryRepository) CreditLedger(ctx context.Context, principal string, amount int64) error {
	m.ledger[principal] += amount
	return nil
}

func (m *memoryRepository) TransferLedger(ctx context.Context, fromPrincipal, toPrincipal string, amount int64) error {
	if err := m.DebitLedger(ctx, fromPrincipal, amount); err != nil {
		return err
	}
	return m.CreditLedger(ctx, toPrincipal, amount)
}

func (m *memoryRepository) SetKeeper(ctx context.Context, keeperID string, enabled bool) error {
	m.keepers[keeperID] = enabled
	return nil
}

func (m *memoryRepository) IsKeeperEnabled(ctx context.Context, keeperID string) (bool, error) {
	return m.keepers[keeperID], nil
}

// stubTransport hands out sequential transfer ids and can be made to fail.
type stubTransport struct {
	nextID   int
	failNext bool

	deposits    []int64
	withdrawals []int64
}

func (t *stubTransport) nextTransferID() domain.TransferID {
	t.nextID++
	return domain.TransferID(fmt.Sprintf("%064x", t.nextID))
}

// latestID returns the most recently issued transfer id.
func (t *stubTransport) latestID() domain.TransferID {
	return domain.TransferID(fmt.Sprintf("%064x", t.nextID))
}

func (t *stubTransport) InitiateDeposit(ctx context.Context, amount int64) (domain.TransferID, error) {
	if t.failNext {
		t.failNext = false
		return "", errors.New("bridge unavailable")
	}
	t.deposits = append(t.deposits, amount)
	return t.nextTransferID(), nil
}

func (t *stubTransport) InitiateWithdrawal(ctx context.Context, amount int64) (domain.TransferID, error) {
	if t.failNext {
		t.failNext = false
		return "", errors.New("bridge unavailable")
	}
	t.withdrawals = append(t.withdrawals, amount)
	return t.nextTransferID(), nil
}

func (t *stubTransport) ReturnFunds(ctx context.Context, transferID domain.TransferID, amount int64) error {
	return nil
}

// stubPublisher records routing keys of published events.
type stubPublisher struct {
	keys []string
}

func (p *stubPublisher) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.keys = append(p.keys, routingKey)
	return nil
}

func (p *stubPublisher) Close() {}

const testKeeper = "keeper-1"

func newTestService(t *testing.T) (*Service, *memoryRepository, *stubTransport, *stubPublisher) {
	t.Helper()
	repo := newMemoryRepository()
	repo.keepers[testKeeper] = true
	transport := &stubTransport{}
	publisher := &stubPublisher{}
	svc := NewService(repo, transport, publisher, 1_000)
	return svc, repo, transport, publisher
}

func TestDepositWithdrawLifecycle(t *testing.T) {
	svc, repo, transport, publisher := newTestService(t)
	ctx := context.Background()
	repo.ledger[domain.PrincipalManager] = 1_000_000_000

	// Deposit 100 USDM.
	if _, err := svc.Deposit(ctx, 100_000_000); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}
	if got := repo.ledger[domain.PrincipalManager]; got != 900_000_000 {
		t.Errorf("expected manager float 900000000 after debit, got %d", got)
	}
	if repo.state.PendingDeposits != 100_000_000 {
		t.Errorf("expected pending deposits 100000000, got %d", repo.state.PendingDeposits)
	}
	if repo.state.TotalDeposited != 100_000_000 {
		t.Errorf("expected total deposited 100000000, got %d", repo.state.TotalDeposited)
	}
	total, err := svc.TotalValue(ctx)
	if err != nil || total != 100_000_000 {
		t.Fatalf("expected total value 100000000, got %d (err %v)", total, err)
	}

	depositID := transport.latestID()

	// Keeper confirms delivery: pending moves into last reported value.
	if err := svc.ConfirmDeposit(ctx, testKeeper, depositID, 95_000_000); err != nil {
		t.Fatalf("ConfirmDeposit failed: %v", err)
	}
	if repo.state.PendingDeposits != 0 {
		t.Errorf("expected pending deposits 0 after confirm, got %d", repo.state.PendingDeposits)
	}
	if repo.state.LastReportedValue != 100_000_000 {
		t.Errorf("expected last reported value 100000000, got %d", repo.state.LastReportedValue)
	}
	rec, err := repo.FindTransferByID(ctx, depositID)
	if err != nil {
		t.Fatalf("confirmed deposit record should be retained: %v", err)
	}
	if rec.State != domain.TransferStateDeployed {
		t.Errorf("expected deployed state, got %s", rec.State)
	}

	// Mark to market with 4% gain.
	if err := svc.UpdateRemoteValue(ctx, testKeeper, 104_000_000); err != nil {
		t.Fatalf("UpdateRemoteValue failed: %v", err)
	}
	yield, err := svc.YieldEarned(ctx)
	if err != nil || yield != 4_000_000 {
		t.Fatalf("expected yield 4000000, got %d (err %v)", yield, err)
	}

	// Withdraw half the principal.
	if _, err := svc.Withdraw(ctx, 50_000_000); err != nil {
		t.Fatalf("Withdraw failed: %v", err)
	}
	total, _ = svc.TotalValue(ctx)
	if total != 54_000_000 {
		t.Errorf("expected total value 54000000 with pending withdrawal, got %d", total)
	}
	withdrawalID := transport.latestID()

	managerBefore := repo.ledger[domain.PrincipalManager]
	if err := svc.ReceiveWithdrawal(ctx, testKeeper, withdrawalID, 50_000_000); err != nil {
		t.Fatalf("ReceiveWithdrawal failed: %v", err)
	}
	if got := repo.ledger[domain.PrincipalManager]; got != managerBefore+50_000_000 {
		t.Errorf("expected manager float credited by 50000000, got delta %d", got-managerBefore)
	}
	if _, err := repo.FindTransferByID(ctx, withdrawalID); !errors.Is(err, domain.ErrTransferNotFound) {
		t.Errorf("settled withdrawal record should be deleted, got err %v", err)
	}
	if repo.state.PendingWithdrawals != 0 {
		t.Errorf("expected pending withdrawals 0, got %d", repo.state.PendingWithdrawals)
	}
	if repo.state.LastReportedValue != 54_000_000 {
		t.Errorf("expected last reported value 54000000, got %d", repo.state.LastReportedValue)
	}
	if repo.state.TotalDeposited != 50_000_000 {
		t.Errorf("expected total deposited 50000000, got %d", repo.state.TotalDeposited)
	}

	wantKeys := []string{
		domain.RoutingKeyDepositInitiated,
		domain.RoutingKeyDepositConfirmed,
		domain.RoutingKeyRemoteValueUpdated,
		domain.RoutingKeyWithdrawalInitiated,
		domain.RoutingKeyWithdrawalCompleted,
	}
	if len(publisher.keys) != len(wantKeys) {
		t.Fatalf("expected %d events, got %d (%v)", len(wantKeys), len(publisher.keys), publisher.keys)
	}
	for i, key := range wantKeys {
		if publisher.keys[i] != key {
			t.Errorf("event %d: expected %s, got %s", i, key, publisher.keys[i])
		}
	}
}

func TestDepositValidation(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	ctx := context.Background()
	repo.ledger[domain.PrincipalManager] = 10_000

	if _, err := svc.Deposit(ctx, 0); !errors.Is(err, domain.ErrZeroAmount) {
		t.Errorf("expected ErrZeroAmount for zero deposit, got %v", err)
	}

	var belowMin *domain.AmountBelowMinimumError
	if _, err := svc.Deposit(ctx, 500); !errors.As(err, &belowMin) {
		t.Errorf("expected AmountBelowMinimumError for sub-floor deposit, got %v", err)
	}

	var insufficient *domain.InsufficientBalanceError
	if _, err := svc.Deposit(ctx, 20_000); !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientBalanceError, got %v", err)
	}
	if insufficient.Requested != 20_000 || insufficient.Available != 10_000 {
		t.Errorf("unexpected balance error detail: %+v", insufficient)
	}
	if repo.ledger[domain.PrincipalManager] != 10_000 {
		t.Errorf("failed deposit must not move funds, got balance %d", repo.ledger[domain.PrincipalManager])
	}
	if repo.state != nil && repo.state.PendingDeposits != 0 {
		t.Errorf("failed deposit must not change counters, got pending %d", repo.state.PendingDeposits)
	}
}

func TestDepositRejectedWhenDeactivated(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	ctx := context.Background()
	repo.ledger[domain.PrincipalManager] = 100_000

	if err := svc.Deactivate(ctx); err != nil {
		t.Fatalf("Deactivate failed: %v", err)
	}
	if _, err := svc.Deposit(ctx, 10_000); !errors.Is(err, domain.ErrStrategyNotActive) {
		t.Errorf("expected ErrStrategyNotActive, got %v", err)
	}

	// Withdrawals stay open for recovery.
	repo.state.LastReportedValue = 10_000
	if _, err := svc.Withdraw(ctx, 5_000); err != nil {
		t.Errorf("withdrawal while deactivated should succeed, got %v", err)
	}

	if err := svc.Activate(ctx); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	if _, err := svc.Deposit(ctx, 10_000); err != nil {
		t.Errorf("deposit after reactivation should succeed, got %v", err)
	}
}

func TestDepositBridgeFailureRefundsManager(t *testing.T) {
	svc, repo, transport, publisher := newTestService(t)
	ctx := context.Background()
	repo.ledger[domain.PrincipalManager] = 100_000
	transport.failNext = true

	if _, err := svc.Deposit(ctx, 50_000); err == nil {
		t.Fatal("expected bridge failure to surface")
	}
	if repo.ledger[domain.PrincipalManager] != 100_000 {
		t.Errorf("expected manager float restored to 100000, got %d", repo.ledger[domain.PrincipalManager])
	}
	if repo.state != nil && repo.state.PendingDeposits != 0 {
		t.Errorf("aborted deposit must not leave pending counters, got %d", repo.state.PendingDeposits)
	}
	if len(publisher.keys) != 0 {
		t.Errorf("aborted deposit must not publish events, got %v", publisher.keys)
	}
}

func TestConfirmDepositReplayFailsClosed(t *testing.T) {
	svc, repo, transport, _ := newTestService(t)
	ctx := context.Background()
	repo.ledger[domain.PrincipalManager] = 100_000

	if _, err := svc.Deposit(ctx, 50_000); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}
	id := transport.latestID()

	if err := svc.ConfirmDeposit(ctx, testKeeper, id, 50_000); err != nil {
		t.Fatalf("first confirmation failed: %v", err)
	}
	valueAfterFirst := repo.state.LastReportedValue

	var invalidState *domain.InvalidTransferStateError
	if err := svc.ConfirmDeposit(ctx, testKeeper, id, 50_000); !errors.As(err, &invalidState) {
		t.Fatalf("expected InvalidTransferStateError on replay, got %v", err)
	}
	if repo.state.LastReportedValue != valueAfterFirst {
		t.Errorf("replayed confirmation must not double-apply: %d != %d", repo.state.LastReportedValue, valueAfterFirst)
	}

	if err := svc.ConfirmDeposit(ctx, testKeeper, "deadbeef", 1); !errors.Is(err, domain.ErrTransferNotFound) {
		t.Errorf("expected ErrTransferNotFound for unknown id, got %v", err)
	}
}

func TestConfirmDepositFailureLeavesStateRetryable(t *testing.T) {
	svc, repo, transport, _ := newTestService(t)
	ctx := context.Background()
	repo.ledger[domain.PrincipalManager] = 100_000

	if _, err := svc.Deposit(ctx, 50_000); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}
	id := transport.latestID()

	// The combined record-and-state write fails: nothing may be applied.
	repo.confirmErr = errors.New("database unavailable")
	if err := svc.ConfirmDeposit(ctx, testKeeper, id, 50_000); err == nil {
		t.Fatal("expected confirmation failure to surface")
	}
	rec, err := repo.FindTransferByID(ctx, id)
	if err != nil {
		t.Fatalf("record must survive the failed confirmation: %v", err)
	}
	if rec.State != domain.TransferStatePending {
		t.Fatalf("record must stay pending after a failed confirmation, got %s", rec.State)
	}
	if repo.state.PendingDeposits != 50_000 || repo.state.LastReportedValue != 0 {
		t.Errorf("counters must be untouched after a failed confirmation: %+v", repo.state)
	}

	// The keeper's retry then applies the whole step.
	repo.confirmErr = nil
	if err := svc.ConfirmDeposit(ctx, testKeeper, id, 50_000); err != nil {
		t.Fatalf("retried confirmation failed: %v", err)
	}
	if repo.state.PendingDeposits != 0 || repo.state.LastReportedValue != 50_000 {
		t.Errorf("retried confirmation must apply once: %+v", repo.state)
	}
}

func TestConfirmDepositRejectsWithdrawalRecord(t *testing.T) {
	svc, repo, transport, _ := newTestService(t)
	ctx := context.Background()
	repo.ledger[domain.PrincipalManager] = 100_000
	repo.keepers[testKeeper] = true

	if _, err := svc.Deposit(ctx, 50_000); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}
	if err := svc.ConfirmDeposit(ctx, testKeeper, transport.latestID(), 0); err != nil {
		t.Fatalf("ConfirmDeposit failed: %v", err)
	}
	if _, err := svc.Withdraw(ctx, 10_000); err != nil {
		t.Fatalf("Withdraw failed: %v", err)
	}
	withdrawalID := transport.latestID()

	var invalidState *domain.InvalidTransferStateError
	if err := svc.ConfirmDeposit(ctx, testKeeper, withdrawalID, 0); !errors.As(err, &invalidState) {
		t.Errorf("confirming a withdrawal record must fail, got %v", err)
	}
	if err := svc.ReceiveWithdrawal(ctx, testKeeper, withdrawalID, 10_000); err != nil {
		t.Errorf("the record must still settle through the correct path, got %v", err)
	}
}

func TestWithdrawExceedingValue(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	ctx := context.Background()
	repo.ledger[domain.PrincipalManager] = 100_000

	var insufficient *domain.InsufficientBalanceError
	if _, err := svc.Withdraw(ctx, 1); !errors.As(err, &insufficient) {
		t.Errorf("withdrawal from empty strategy must fail, got %v", err)
	}

	if _, err := svc.Deposit(ctx, 50_000); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}
	if _, err := svc.Withdraw(ctx, 60_000); !errors.As(err, &insufficient) {
		t.Errorf("expected InsufficientBalanceError above total value, got %v", err)
	}
	if repo.state.PendingWithdrawals != 0 {
		t.Errorf("rejected withdrawal must not change counters, got %d", repo.state.PendingWithdrawals)
	}
}

func TestReceiveWithdrawalReplay(t *testing.T) {
	svc, repo, transport, _ := newTestService(t)
	ctx := context.Background()
	repo.ledger[domain.PrincipalManager] = 100_000

	if _, err := svc.Deposit(ctx, 50_000); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}
	if err := svc.ConfirmDeposit(ctx, testKeeper, transport.latestID(), 0); err != nil {
		t.Fatalf("ConfirmDeposit failed: %v", err)
	}
	if _, err := svc.Withdraw(ctx, 20_000); err != nil {
		t.Fatalf("Withdraw failed: %v", err)
	}
	id := transport.latestID()

	if err := svc.ReceiveWithdrawal(ctx, testKeeper, id, 20_000); err != nil {
		t.Fatalf("first settlement failed: %v", err)
	}
	balanceAfterFirst := repo.ledger[domain.PrincipalManager]

	if err := svc.ReceiveWithdrawal(ctx, testKeeper, id, 20_000); !errors.Is(err, domain.ErrTransferNotFound) {
		t.Fatalf("replayed settlement must report not found, got %v", err)
	}
	if repo.ledger[domain.PrincipalManager] != balanceAfterFirst {
		t.Errorf("replayed settlement must not credit twice")
	}
}

func TestKeeperAuthorization(t *testing.T) {
	svc, repo, transport, _ := newTestService(t)
	ctx := context.Background()
	repo.ledger[domain.PrincipalManager] = 100_000

	if _, err := svc.Deposit(ctx, 50_000); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}
	id := transport.latestID()

	if err := svc.ConfirmDeposit(ctx, "rogue", id, 0); !errors.Is(err, domain.ErrOnlyKeeper) {
		t.Errorf("expected ErrOnlyKeeper for unknown keeper, got %v", err)
	}
	if err := svc.UpdateRemoteValue(ctx, "", 1); !errors.Is(err, domain.ErrOnlyKeeper) {
		t.Errorf("expected ErrOnlyKeeper for empty keeper id, got %v", err)
	}

	// A disabled keeper is treated the same as an unknown one.
	if err := svc.SetKeeper(ctx, testKeeper, false); err != nil {
		t.Fatalf("SetKeeper failed: %v", err)
	}
	if err := svc.ConfirmDeposit(ctx, testKeeper, id, 0); !errors.Is(err, domain.ErrOnlyKeeper) {
		t.Errorf("expected ErrOnlyKeeper for disabled keeper, got %v", err)
	}

	if err := svc.SetKeeper(ctx, "", true); !errors.Is(err, domain.ErrEmptyPrincipal) {
		t.Errorf("expected ErrEmptyPrincipal, got %v", err)
	}
}

func TestValueStaleness(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return current }

	if err := svc.UpdateRemoteValue(ctx, testKeeper, 10_000); err != nil {
		t.Fatalf("UpdateRemoteValue failed: %v", err)
	}
	if stale, _ := svc.IsValueStale(ctx); stale {
		t.Error("value should be fresh immediately after an update")
	}

	current = current.Add(time.Hour + time.Minute)
	if stale, _ := svc.IsValueStale(ctx); !stale {
		t.Error("value should be stale past the default threshold")
	}

	// Widening the threshold makes the same report fresh again.
	if err := svc.SetMaxStaleness(ctx, 2*time.Hour); err != nil {
		t.Fatalf("SetMaxStaleness failed: %v", err)
	}
	if stale, _ := svc.IsValueStale(ctx); stale {
		t.Error("value should be fresh under the widened threshold")
	}

	if err := svc.SetMaxStaleness(ctx, 0); !errors.Is(err, domain.ErrZeroAmount) {
		t.Errorf("expected rejection of non-positive threshold, got %v", err)
	}
}

func TestWithdrawAll(t *testing.T) {
	svc, repo, transport, _ := newTestService(t)
	ctx := context.Background()
	repo.ledger[domain.PrincipalManager] = 100_000

	// Empty strategy: a no-op, no bridge call.
	if _, err := svc.WithdrawAll(ctx); err != nil {
		t.Fatalf("WithdrawAll on empty strategy failed: %v", err)
	}
	if len(transport.withdrawals) != 0 {
		t.Fatalf("empty WithdrawAll must not reach the bridge")
	}

	if _, err := svc.Deposit(ctx, 50_000); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}
	if err := svc.ConfirmDeposit(ctx, testKeeper, transport.latestID(), 0); err != nil {
		t.Fatalf("ConfirmDeposit failed: %v", err)
	}
	if err := svc.UpdateRemoteValue(ctx, testKeeper, 52_000); err != nil {
		t.Fatalf("UpdateRemoteValue failed: %v", err)
	}

	if _, err := svc.WithdrawAll(ctx); err != nil {
		t.Fatalf("WithdrawAll failed: %v", err)
	}
	if len(transport.withdrawals) != 1 || transport.withdrawals[0] != 52_000 {
		t.Fatalf("expected one withdrawal for 52000, got %v", transport.withdrawals)
	}
	total, _ := svc.TotalValue(ctx)
	if total != 0 {
		t.Errorf("expected total value 0 after WithdrawAll intent, got %d", total)
	}
}

func TestEmergencyWithdraw(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	ctx := context.Background()
	repo.ledger[domain.PrincipalController] = 7_500

	swept, err := svc.EmergencyWithdraw(ctx)
	if err != nil {
		t.Fatalf("EmergencyWithdraw failed: %v", err)
	}
	if swept != 7_500 {
		t.Errorf("expected swept 7500, got %d", swept)
	}
	if repo.ledger[domain.PrincipalOwner] != 7_500 {
		t.Errorf("expected owner credited 7500, got %d", repo.ledger[domain.PrincipalOwner])
	}
	if repo.ledger[domain.PrincipalController] != 0 {
		t.Errorf("expected controller drained, got %d", repo.ledger[domain.PrincipalController])
	}
	if repo.state.IsActive {
		t.Error("emergency withdraw must deactivate the strategy")
	}

	// Idempotent with nothing to sweep.
	swept, err = svc.EmergencyWithdraw(ctx)
	if err != nil || swept != 0 {
		t.Errorf("expected second sweep to be a no-op, got %d (err %v)", swept, err)
	}
}

func TestStrategyInfo(t *testing.T) {
	svc, repo, transport, _ := newTestService(t)
	ctx := context.Background()
	repo.ledger[domain.PrincipalManager] = 100_000

	if _, err := svc.Deposit(ctx, 40_000); err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}
	if err := svc.ConfirmDeposit(ctx, testKeeper, transport.latestID(), 0); err != nil {
		t.Fatalf("ConfirmDeposit failed: %v", err)
	}
	if err := svc.UpdateRemoteValue(ctx, testKeeper, 41_000); err != nil {
		t.Fatalf("UpdateRemoteValue failed: %v", err)
	}

	info, err := svc.Info(ctx)
	if err != nil {
		t.Fatalf("Info failed: %v", err)
	}
	if info.Name != domain.StrategyName || info.AssetID != domain.AssetUSDM {
		t.Errorf("unexpected identity: %+v", info)
	}
	if info.TotalValue != 41_000 || info.YieldEarned != 1_000 {
		t.Errorf("unexpected valuation: total=%d yield=%d", info.TotalValue, info.YieldEarned)
	}
	if !info.IsActive || info.ValueStale {
		t.Errorf("unexpected flags: %+v", info)
	}
	// The capability flags must surface in the info payload itself, since
	// the manager reads them over HTTP rather than calling the Go methods.
	if info.SupportsInstantWithdraw || info.MaxInstantWithdraw != 0 {
		t.Errorf("instant withdrawal must be reported unsupported: %+v", info)
	}

	if svc.SupportsInstantWithdraw() {
		t.Error("instant withdrawal must be unsupported")
	}
	if svc.MaxInstantWithdraw() != 0 {
		t.Error("max instant withdrawal must be zero")
	}
}
