package domain_test

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spbu-ds-practicum-2025/example-project/services/ledger-service/internal/domain"
)

// memStore is an in-memory ledger store with snapshot rollback.
type memStore struct {
	mu        sync.Mutex
	accounts  map[uuid.UUID]domain.Account
	transfers map[uuid.UUID]*domain.Transfer
	outbox    []*domain.OutboxEvent

	// writes counts write calls, including those later rolled back
	writes int
}

func newMemStore(accounts ...domain.Account) *memStore {
	s := &memStore{
		accounts:  make(map[uuid.UUID]domain.Account),
		transfers: make(map[uuid.UUID]*domain.Transfer),
	}
	for _, a := range accounts {
		s.accounts[a.ID] = a
	}
	return s
}

type memSnapshot struct {
	accounts  map[uuid.UUID]domain.Account
	transfers map[uuid.UUID]*domain.Transfer
	outbox    []*domain.OutboxEvent
}

func (s *memStore) snapshot() memSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := memSnapshot{
		accounts:  make(map[uuid.UUID]domain.Account, len(s.accounts)),
		transfers: make(map[uuid.UUID]*domain.Transfer, len(s.transfers)),
		outbox:    append([]*domain.OutboxEvent(nil), s.outbox...),
	}
	for k, v := range s.accounts {
		snap.accounts[k] = v
	}
	for k, v := range s.transfers {
		snap.transfers[k] = v
	}
	return snap
}

func (s *memStore) restore(snap memSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts = snap.accounts
	s.transfers = snap.transfers
	s.outbox = snap.outbox
}

func (s *memStore) balance(id uuid.UUID) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accounts[id].Balance.Amount.StringFixed(2)
}

func (s *memStore) transferCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.transfers)
}

func (s *memStore) FindByIDs(_ context.Context, ids []uuid.UUID, _ bool) ([]*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Account
	for _, id := range ids {
		if a, ok := s.accounts[id]; ok {
			a := a
			out = append(out, &a)
		}
	}
	return out, nil
}

func (s *memStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	return &a, nil
}

func (s *memStore) UpdateBalances(_ context.Context, deltas []domain.BalanceDelta) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	var applied int64
	for _, d := range deltas {
		a, ok := s.accounts[d.AccountID]
		if !ok {
			continue
		}
		next := a.Balance.Amount.Add(d.Amount)
		if next.IsNegative() && !a.AllowNegative {
			continue
		}
		a.Balance.Amount = next
		a.UpdatedAt = time.Now()
		s.accounts[d.AccountID] = a
		applied++
	}
	return applied, nil
}

// memTransfers exposes the transfer side of memStore; the method sets collide otherwise.
type memTransfers struct{ *memStore }

func (t memTransfers) Create(_ context.Context, transfer *domain.Transfer) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writes++
	transfer.ID = uuid.New()
	stored := *transfer
	t.transfers[transfer.ID] = &stored
	return nil
}

func (t memTransfers) CreateItems(_ context.Context, items []domain.TransferItem) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writes++
	for _, item := range items {
		header := *t.transfers[item.TransferID]
		header.Items = append(append([]domain.TransferItem(nil), header.Items...), item)
		t.transfers[item.TransferID] = &header
	}
	return nil
}

func (t memTransfers) FindIDByRequestID(_ context.Context, requestID uuid.UUID) (uuid.UUID, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, tr := range t.transfers {
		if tr.RequestID == requestID {
			return id, true, nil
		}
	}
	return uuid.Nil, false, nil
}

func (t memTransfers) GetByID(_ context.Context, id uuid.UUID) (*domain.Transfer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tr, ok := t.transfers[id]
	if !ok {
		return nil, domain.ErrTransferNotFound
	}
	out := *tr
	return &out, nil
}

func (t memTransfers) FindAll(_ context.Context, filter domain.TransferFilter) ([]*domain.Transfer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*domain.Transfer
	for _, tr := range t.transfers {
		if filter.City != "" && tr.City != filter.City {
			continue
		}
		header := *tr
		header.Items = nil
		out = append(out, &header)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

// Append stores an outbox event.
func (s *memStore) Append(_ context.Context, event *domain.OutboxEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	s.outbox = append(s.outbox, event)
	return nil
}

// recordingUOW records session calls in order.
type recordingUOW struct {
	attempt int
	calls   []string
	failOn  string
}

func (u *recordingUOW) record(call string) error {
	u.calls = append(u.calls, call)
	if u.failOn == call {
		return context.DeadlineExceeded
	}
	return nil
}

func (u *recordingUOW) SetApplicationName(_ context.Context, name string) error {
	return u.record("application_name=" + name)
}

func (u *recordingUOW) SetPriority(_ context.Context, p domain.Priority) error {
	return u.record("priority=" + string(p))
}

func (u *recordingUOW) SetIdleTimeout(_ context.Context, d time.Duration) error {
	return u.record("idle_timeout=" + d.String())
}

func (u *recordingUOW) SetReadOnly(context.Context) error {
	return u.record("read_only")
}

func (u *recordingUOW) SetHistoricalRead(_ context.Context, r domain.HistoricalRead) error {
	return u.record("historical=" + string(r.Mode))
}

func (u *recordingUOW) Attempt() int {
	if u.attempt == 0 {
		return 1
	}
	return u.attempt
}

func (u *recordingUOW) SetAttempt(n int) { u.attempt = n }

// memTxManager runs fn against memStore and restores the snapshot on error.
type memTxManager struct {
	store *memStore
}

func (m memTxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	snap := m.store.snapshot()
	if err := fn(domain.ContextWithUnitOfWork(ctx, &recordingUOW{})); err != nil {
		m.store.restore(snap)
		return err
	}
	return nil
}

// singleShot is an Executor without retries.
type singleShot struct {
	txm domain.TransactionManager
}

func (e singleShot) Execute(ctx context.Context, _ domain.TxOptions, fn func(ctx context.Context) error) error {
	return e.txm.WithTransaction(ctx, fn)
}

func account(balance string, allowNegative bool) domain.Account {
	return domain.Account{
		ID:            uuid.New(),
		City:          "stockholm",
		Name:          "acc",
		Balance:       domain.MustMoney(balance, "USD"),
		AllowNegative: allowNegative,
		Type:          domain.AccountTypeAsset,
	}
}

func leg(id uuid.UUID, amount string) domain.AccountItem {
	return domain.AccountItem{AccountID: id, Amount: domain.MustMoney(amount, "USD")}
}

func request(items ...domain.AccountItem) domain.TransferRequest {
	day := time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC)
	return domain.NewTransferRequest(uuid.New(), "stockholm", domain.TransferTypePayment, day, day, items...)
}
