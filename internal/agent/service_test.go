package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/vaultra/treasury-service/internal/domain"
)

// memoryRepository is a stateful in-memory Repository for agent tests.
type memoryRepository struct {
	position  *domain.RemotePosition
	held      int64
	processed map[domain.TransferID]*domain.ProcessedDeposit
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{processed: make(map[domain.TransferID]*domain.ProcessedDeposit)}
}

func (m *memoryRepository) FindOrCreatePosition(ctx context.Context) (*domain.RemotePosition, error) {
	if m.position == nil {
		m.position = &domain.RemotePosition{}
	}
	copied := *m.position
	return &copied, nil
}

func (m *memoryRepository) SavePosition(ctx context.Context, pos *domain.RemotePosition) error {
	copied := *pos
	m.position = &copied
	return nil
}

func (m *memoryRepository) HeldBalance(ctx context.Context) (int64, error) { return m.held, nil }

func (m *memoryRepository) CreditHeld(ctx context.Context, amount int64) error {
	m.held += amount
	return nil
}

func (m *memoryRepository) DebitHeld(ctx context.Context, amount int64) error {
	if m.held < amount {
		return errors.New("held balance underflow")
	}
	m.held -= amount
	return nil
}

func (m *memoryRepository) FindProcessedDeposit(ctx context.Context, id domain.TransferID) (*domain.ProcessedDeposit, error) {
	rec, ok := m.processed[id]
	if !ok {
		return nil, nil
	}
	copied := *rec
	return &copied, nil
}

func (m *memoryRepository) MarkDepositProcessed(ctx context.Context, rec *domain.ProcessedDeposit) error {
	if _, ok := m.processed[rec.TransferID]; ok {
		return nil
	}
	copied := *rec
	m.processed[rec.TransferID] = &copied
	return nil
}

// stubYieldSource converts at a configurable price expressed as micro-assets
// per share (1_000_000 means 1:1).
type stubYieldSource struct {
	priceMicro int64
	shares     int64

	depositErr error
	redeemErr  error
}

func newStubYieldSource() *stubYieldSource {
	return &stubYieldSource{priceMicro: 1_000_000}
}

func (y *stubYieldSource) Deposit(ctx context.Context, assets int64) (int64, error) {
	if y.depositErr != nil {
		return 0, y.depositErr
	}
	shares := assets * 1_000_000 / y.priceMicro
	y.shares += shares
	return shares, nil
}

func (y *stubYieldSource) Redeem(ctx context.Context, shares int64) (int64, error) {
	if y.redeemErr != nil {
		return 0, y.redeemErr
	}
	if shares > y.shares {
		return 0, errors.New("insufficient shares")
	}
	y.shares -= shares
	return shares * y.priceMicro / 1_000_000, nil
}

func (y *stubYieldSource) ConvertToShares(ctx context.Context, assets int64) (int64, error) {
	return assets * 1_000_000 / y.priceMicro, nil
}

func (y *stubYieldSource) ConvertToAssets(ctx context.Context, shares int64) (int64, error) {
	return shares * y.priceMicro / 1_000_000, nil
}

func (y *stubYieldSource) ShareBalance(ctx context.Context) (int64, error) { return y.shares, nil }

// stubBridge records return-leg calls and can be made to fail.
type stubBridge struct {
	returns map[domain.TransferID]int64
	failErr error
}

func newStubBridge() *stubBridge {
	return &stubBridge{returns: make(map[domain.TransferID]int64)}
}

func (b *stubBridge) ReturnFunds(ctx context.Context, transferID domain.TransferID, amount int64) error {
	if b.failErr != nil {
		return b.failErr
	}
	b.returns[transferID] = amount
	return nil
}

func newTestService() (*Service, *memoryRepository, *stubYieldSource, *stubBridge) {
	repo := newMemoryRepository()
	yield := newStubYieldSource()
	bridge := newStubBridge()
	return NewService(repo, yield, bridge), repo, yield, bridge
}

func TestProcessDepositDeploysHeldBalance(t *testing.T) {
	svc, repo, yield, _ := newTestService()
	ctx := context.Background()

	// Two deliveries land before the relay arrives; both get swept.
	if err := svc.ReceiveBridgedFunds(ctx, 30_000); err != nil {
		t.Fatalf("ReceiveBridgedFunds failed: %v", err)
	}
	if err := svc.ReceiveBridgedFunds(ctx, 20_000); err != nil {
		t.Fatalf("ReceiveBridgedFunds failed: %v", err)
	}

	res, err := svc.ProcessDeposit(ctx, "t1", 30_000)
	if err != nil {
		t.Fatalf("ProcessDeposit failed: %v", err)
	}
	if res.AmountDeployed != 50_000 || res.SharesMinted != 50_000 {
		t.Errorf("expected full held balance deployed, got %+v", res)
	}
	if repo.held != 0 {
		t.Errorf("expected held balance drained, got %d", repo.held)
	}
	if repo.position.SharesHeld != 50_000 || repo.position.TotalDeposited != 50_000 {
		t.Errorf("unexpected position: %+v", repo.position)
	}
	if yield.shares != 50_000 {
		t.Errorf("expected 50000 shares in the yield source, got %d", yield.shares)
	}
}

func TestProcessDepositReplay(t *testing.T) {
	svc, repo, _, _ := newTestService()
	ctx := context.Background()
	repo.held = 10_000

	if _, err := svc.ProcessDeposit(ctx, "t1", 10_000); err != nil {
		t.Fatalf("first ProcessDeposit failed: %v", err)
	}
	sharesAfterFirst := repo.position.SharesHeld

	res, err := svc.ProcessDeposit(ctx, "t1", 10_000)
	if err != nil {
		t.Fatalf("replayed ProcessDeposit must be acknowledged: %v", err)
	}
	if !res.AlreadyDone {
		t.Error("expected AlreadyDone on replay")
	}
	if res.AmountDeployed != 10_000 || res.SharesMinted != 10_000 {
		t.Errorf("replay must report the original figures, got %+v", res)
	}
	if repo.position.SharesHeld != sharesAfterFirst {
		t.Errorf("replay must not deploy twice: %d != %d", repo.position.SharesHeld, sharesAfterFirst)
	}
}

func TestProcessDepositRetryAfterYieldFailure(t *testing.T) {
	svc, repo, yield, _ := newTestService()
	ctx := context.Background()
	repo.held = 10_000

	yield.depositErr = errors.New("yield source unavailable")
	if _, err := svc.ProcessDeposit(ctx, "t1", 10_000); err == nil {
		t.Fatal("expected yield source failure to surface")
	}
	if repo.held != 10_000 {
		t.Fatalf("failed deploy must leave the held balance intact, got %d", repo.held)
	}

	// The failed attempt recorded nothing, so the requeued delivery deploys.
	yield.depositErr = nil
	res, err := svc.ProcessDeposit(ctx, "t1", 10_000)
	if err != nil {
		t.Fatalf("retry after transient failure must succeed: %v", err)
	}
	if res.AlreadyDone {
		t.Fatal("retry must not be answered as already processed")
	}
	if res.AmountDeployed != 10_000 || res.SharesMinted != 10_000 {
		t.Errorf("unexpected retry result: %+v", res)
	}
	if repo.held != 0 {
		t.Errorf("expected held balance drained on retry, got %d", repo.held)
	}
	if repo.position.SharesHeld != 10_000 {
		t.Errorf("expected 10000 shares after retry, got %d", repo.position.SharesHeld)
	}
}

func TestProcessDepositValidation(t *testing.T) {
	svc, repo, _, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.ProcessDeposit(ctx, "", 10_000); !errors.Is(err, domain.ErrTransferNotFound) {
		t.Errorf("expected ErrTransferNotFound for empty id, got %v", err)
	}
	if _, err := svc.ProcessDeposit(ctx, "t1", 0); !errors.Is(err, domain.ErrZeroAmount) {
		t.Errorf("expected ErrZeroAmount, got %v", err)
	}
	if _, err := svc.ProcessDeposit(ctx, "t2", 10_000); err == nil {
		t.Error("expected failure when nothing is held")
	}

	// The rejected id was never recorded; once funds land the retry deploys.
	repo.held = 5_000
	res, err := svc.ProcessDeposit(ctx, "t2", 5_000)
	if err != nil {
		t.Fatalf("retry after funds arrive must succeed: %v", err)
	}
	if res.AlreadyDone || res.AmountDeployed != 5_000 {
		t.Errorf("unexpected retry result: %+v", res)
	}
}

func TestInitiateWithdrawalCapsToValue(t *testing.T) {
	svc, repo, yield, bridge := newTestService()
	ctx := context.Background()
	repo.held = 100_000

	if _, err := svc.ProcessDeposit(ctx, "dep", 100_000); err != nil {
		t.Fatalf("ProcessDeposit failed: %v", err)
	}

	// Position loses 10%: 100000 shares now worth 90000.
	yield.priceMicro = 900_000

	res, err := svc.InitiateWithdrawal(ctx, "wd", 95_000)
	if err != nil {
		t.Fatalf("InitiateWithdrawal failed: %v", err)
	}
	if res.AmountReturned != 90_000 {
		t.Errorf("expected return capped to value 90000, got %d", res.AmountReturned)
	}
	if bridge.returns["wd"] != 90_000 {
		t.Errorf("expected bridge return of 90000, got %d", bridge.returns["wd"])
	}
	if repo.position.SharesHeld != 0 {
		t.Errorf("expected all shares burned, got %d", repo.position.SharesHeld)
	}
}

func TestInitiateWithdrawalPartial(t *testing.T) {
	svc, repo, _, bridge := newTestService()
	ctx := context.Background()
	repo.held = 100_000

	if _, err := svc.ProcessDeposit(ctx, "dep", 100_000); err != nil {
		t.Fatalf("ProcessDeposit failed: %v", err)
	}

	res, err := svc.InitiateWithdrawal(ctx, "wd", 40_000)
	if err != nil {
		t.Fatalf("InitiateWithdrawal failed: %v", err)
	}
	if res.AmountReturned != 40_000 || res.SharesBurned != 40_000 {
		t.Errorf("unexpected result: %+v", res)
	}
	if repo.position.SharesHeld != 60_000 {
		t.Errorf("expected 60000 shares left, got %d", repo.position.SharesHeld)
	}
	if repo.position.TotalDeposited != 60_000 {
		t.Errorf("expected deposited principal reduced to 60000, got %d", repo.position.TotalDeposited)
	}
	if bridge.returns["wd"] != 40_000 {
		t.Errorf("expected bridge return of 40000, got %d", bridge.returns["wd"])
	}
}

func TestInitiateWithdrawalReturnLegFailureParksFunds(t *testing.T) {
	svc, repo, _, bridge := newTestService()
	ctx := context.Background()
	repo.held = 50_000

	if _, err := svc.ProcessDeposit(ctx, "dep", 50_000); err != nil {
		t.Fatalf("ProcessDeposit failed: %v", err)
	}
	bridge.failErr = errors.New("bridge unavailable")

	if _, err := svc.InitiateWithdrawal(ctx, "wd", 20_000); err == nil {
		t.Fatal("expected return leg failure to surface")
	}
	if repo.held != 20_000 {
		t.Errorf("redeemed funds must be parked in held balance, got %d", repo.held)
	}
	// The position snapshot was never saved, so the stored shares still
	// include the redeemed ones; the next valuation reads through the yield
	// source, which has already burned them.
	if repo.position.SharesHeld != 50_000 {
		t.Errorf("stored position must be unchanged on failure, got %d", repo.position.SharesHeld)
	}
}

func TestWithdrawAll(t *testing.T) {
	svc, repo, _, bridge := newTestService()
	ctx := context.Background()

	// Empty position: no bridge call.
	res, err := svc.WithdrawAll(ctx, "wd0")
	if err != nil {
		t.Fatalf("WithdrawAll on empty position failed: %v", err)
	}
	if res.AmountReturned != 0 || len(bridge.returns) != 0 {
		t.Errorf("empty WithdrawAll must not move funds: %+v", res)
	}

	repo.held = 75_000
	if _, err := svc.ProcessDeposit(ctx, "dep", 75_000); err != nil {
		t.Fatalf("ProcessDeposit failed: %v", err)
	}
	res, err = svc.WithdrawAll(ctx, "wd1")
	if err != nil {
		t.Fatalf("WithdrawAll failed: %v", err)
	}
	if res.AmountReturned != 75_000 {
		t.Errorf("expected full position returned, got %d", res.AmountReturned)
	}
	if repo.position.SharesHeld != 0 {
		t.Errorf("expected no shares left, got %d", repo.position.SharesHeld)
	}
}

func TestCurrentValueIncludesHeldBalance(t *testing.T) {
	svc, repo, yield, _ := newTestService()
	ctx := context.Background()
	repo.held = 60_000

	if _, err := svc.ProcessDeposit(ctx, "dep", 60_000); err != nil {
		t.Fatalf("ProcessDeposit failed: %v", err)
	}
	yield.priceMicro = 1_100_000 // 10% gain
	repo.held = 5_000            // stray delivery not yet deployed

	value, err := svc.CurrentValue(ctx)
	if err != nil {
		t.Fatalf("CurrentValue failed: %v", err)
	}
	if value != 66_000+5_000 {
		t.Errorf("expected value 71000, got %d", value)
	}

	info, err := svc.Info(ctx)
	if err != nil {
		t.Fatalf("Info failed: %v", err)
	}
	if info.CurrentValue != 71_000 || info.HeldBalance != 5_000 || info.SharesHeld != 60_000 {
		t.Errorf("unexpected info: %+v", info)
	}
}

func TestEmergencyWithdraw(t *testing.T) {
	svc, repo, yield, bridge := newTestService()
	ctx := context.Background()
	repo.held = 80_000

	if _, err := svc.ProcessDeposit(ctx, "dep", 80_000); err != nil {
		t.Fatalf("ProcessDeposit failed: %v", err)
	}

	redeemed, err := svc.EmergencyWithdraw(ctx)
	if err != nil {
		t.Fatalf("EmergencyWithdraw failed: %v", err)
	}
	if redeemed != 80_000 {
		t.Errorf("expected 80000 redeemed, got %d", redeemed)
	}
	if repo.held != 80_000 {
		t.Errorf("redeemed funds must land in held balance, got %d", repo.held)
	}
	if repo.position.SharesHeld != 0 {
		t.Errorf("expected no shares left, got %d", repo.position.SharesHeld)
	}
	if len(bridge.returns) != 0 {
		t.Error("emergency withdrawal must not touch the bridge")
	}
	if yield.shares != 0 {
		t.Errorf("expected yield source emptied, got %d", yield.shares)
	}

	// Nothing left: a no-op.
	redeemed, err = svc.EmergencyWithdraw(ctx)
	if err != nil || redeemed != 0 {
		t.Errorf("expected no-op second emergency withdrawal, got %d (err %v)", redeemed, err)
	}
}
